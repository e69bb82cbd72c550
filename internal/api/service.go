package api

import (
	"context"
	"io"

	"github.com/snarg/subcache/internal/subtitle"
)

// URL prefixes under which stored media and transcripts are served.
const (
	UploadsPath = "/uploads"
	StaticPath  = "/static"
)

// TranscriptionService is implemented by the ingest pipeline. api owns the
// interface so the pipeline can import api types without a cycle.
type TranscriptionService interface {
	// Transcribe stores the upload under its content hash and returns its
	// transcript, from cache when one exists.
	Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error)

	// Lookup returns what is stored for hash, or storage.ErrNotFound when no
	// media matches.
	Lookup(ctx context.Context, hash string) (*MediaRecord, error)
}

// TranscribeRequest is one upload to transcribe.
type TranscribeRequest struct {
	Filename  string
	File      io.Reader
	Language  string // empty or "auto" = detect
	ModelSize string // empty = configured default
	FileID    string // opaque client id, logged only
}

// TranscribeResult is the POST /transcribe response body.
type TranscribeResult struct {
	VideoFilename string             `json:"videoFilename"`
	VideoURL      string             `json:"videoUrl"`
	Hash          string             `json:"hash"`
	Segments      []subtitle.Segment `json:"segments"`
	SRT           string             `json:"srt"` // file name, "" when absent
	VTT           string             `json:"vtt"` // file name
	VTTURL        string             `json:"vttUrl"`
	Cache         bool               `json:"cache"`
}

// MediaRecord is the GET /media/{hash} response body. Language and model
// size are not recorded with transcripts and are always null.
type MediaRecord struct {
	VideoURL  string             `json:"videoUrl"`
	VTTURL    *string            `json:"vttUrl"`
	SRT       string             `json:"srt"`      // file name, "" when absent
	Segments  []subtitle.Segment `json:"segments"` // null when absent or unreadable
	Lang      *string            `json:"lang"`
	ModelSize *string            `json:"modelSize"`
}

// WatcherStatusData represents the status of the inbox watcher.
type WatcherStatusData struct {
	Status         string `json:"status"` // "backfilling", "watching", "stopped"
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
}
