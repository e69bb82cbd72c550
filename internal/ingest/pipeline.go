package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/api"
	"github.com/snarg/subcache/internal/metrics"
	"github.com/snarg/subcache/internal/mqttclient"
	"github.com/snarg/subcache/internal/storage"
	"github.com/snarg/subcache/internal/subtitle"
	"github.com/snarg/subcache/internal/transcribe"
)

// Submitter runs transcription jobs; *transcribe.WorkerPool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, j transcribe.Job) ([]subtitle.Segment, error)
}

// Notifier announces new transcripts; *mqttclient.Client satisfies it.
type Notifier interface {
	PublishTranscript(ev mqttclient.TranscriptEvent) error
}

// Pipeline turns uploads into cached transcripts. Each request runs strictly
// in order: save temp, hash, pick extension, lock and canonicalize, then
// serve from cache or transcribe and persist while still holding the lock.
type Pipeline struct {
	store            *storage.LocalStore
	pool             Submitter
	mirror           storage.Mirror
	notifier         Notifier
	defaultModelSize string
	log              zerolog.Logger
}

type PipelineOptions struct {
	Store            *storage.LocalStore
	Pool             Submitter
	Mirror           storage.Mirror // nil = no S3 mirror
	Notifier         Notifier       // nil = no notifications
	DefaultModelSize string
	Log              zerolog.Logger
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		store:            opts.Store,
		pool:             opts.Pool,
		mirror:           opts.Mirror,
		notifier:         opts.Notifier,
		defaultModelSize: opts.DefaultModelSize,
		log:              opts.Log.With().Str("component", "ingest").Logger(),
	}
}

// Transcribe implements api.TranscriptionService.
func (p *Pipeline) Transcribe(ctx context.Context, req api.TranscribeRequest) (*api.TranscribeResult, error) {
	log := p.log.With().Str("filename", req.Filename).Logger()
	if req.FileID != "" {
		log = log.With().Str("file_id", req.FileID).Logger()
	}

	// 1. Persist under a temp name; removed on every exit path unless moved
	tmp, err := p.store.SaveTemp(ctx, req.Filename, req.File)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	defer tmp.Discard()

	if info, err := os.Stat(tmp.Path); err == nil {
		metrics.UploadBytesTotal.Add(float64(info.Size()))
	}

	// 2. Content hash
	hash, err := p.store.HashFile(tmp.Path)
	if err != nil {
		return nil, err
	}
	log = log.With().Str("hash", hash).Logger()

	// 3. Extension: original name first, temp file second
	ext := storage.Extension(req.Filename, tmp.Path)

	// 4. Settle the media under its hash
	unlock, err := p.store.Lock(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer unlock()

	videoPath, duplicate, err := p.store.Canonicalize(tmp, hash, ext)
	if err != nil {
		return nil, err
	}
	videoName := filepath.Base(videoPath)
	if duplicate {
		metrics.UploadsTotal.WithLabelValues("duplicate").Inc()
		log.Debug().Str("video", videoName).Msg("duplicate upload, keeping existing media")
	} else {
		metrics.UploadsTotal.WithLabelValues("new").Inc()
		p.mirrorFile(storage.UploadKey(videoName), videoPath)
		log.Info().Str("video", videoName).Msg("new media stored")
	}

	result := &api.TranscribeResult{
		VideoFilename: videoName,
		VideoURL:      mediaURL(api.UploadsPath, videoName),
		Hash:          hash,
	}

	// 5. Cache lookup
	segments, hit, err := p.cached(hash, log)
	if err != nil {
		return nil, err
	}
	if hit {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		log.Info().Int("segments", len(segments)).Msg("transcript served from cache")
		p.fillTranscript(result, hash, segments)
		result.Cache = true
		return result, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	modelSize := req.ModelSize
	if modelSize == "" {
		modelSize = p.defaultModelSize
	}

	start := time.Now()
	segments, err = p.pool.Submit(ctx, transcribe.Job{
		Hash:      hash,
		MediaPath: videoPath,
		Language:  req.Language,
		ModelSize: modelSize,
	})
	metrics.TranscriptionDuration.WithLabelValues(modelSize).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues(modelSize, "error").Inc()
		return nil, err
	}
	if len(segments) == 0 {
		metrics.TranscriptionsTotal.WithLabelValues(modelSize, "empty").Inc()
		log.Warn().Str("model_size", modelSize).Msg("engine produced no segments")
		return nil, transcribe.ErrNoSegments
	}
	metrics.TranscriptionsTotal.WithLabelValues(modelSize, "ok").Inc()

	srt := subtitle.SRT(segments)
	vtt := subtitle.VTT(segments)
	if err := p.store.WriteTranscript(hash, segments, srt, vtt); err != nil {
		return nil, err
	}

	jsonPath, srtPath, vttPath := p.store.TranscriptPaths(hash)
	for _, path := range []string{srtPath, vttPath, jsonPath} {
		p.mirrorFile(storage.TranscriptKey(filepath.Base(path)), path)
	}

	log.Info().
		Str("model_size", modelSize).
		Int("segments", len(segments)).
		Dur("elapsed", time.Since(start)).
		Msg("transcript written")

	p.fillTranscript(result, hash, segments)
	// Publishing can block on a slow broker; keep it off the hash lock
	go p.notify(mqttclient.TranscriptEvent{
		Hash:      hash,
		Filename:  req.Filename,
		VideoURL:  result.VideoURL,
		VTTURL:    result.VTTURL,
		Segments:  len(segments),
		Language:  transcribe.NormalizeLanguage(req.Language),
		ModelSize: modelSize,
	})
	return result, nil
}

// cached returns the stored transcript for hash. A hit needs a readable JSON
// document and the VTT file; an unreadable document counts as a miss so the
// transcript is rebuilt.
func (p *Pipeline) cached(hash string, log zerolog.Logger) ([]subtitle.Segment, bool, error) {
	if !p.store.TranscriptExists(hash) {
		return nil, false, nil
	}
	segments, err := p.store.ReadSegments(hash)
	switch {
	case err == nil:
		return segments, true, nil
	case errors.Is(err, storage.ErrCorrupt):
		metrics.CacheLookupsTotal.WithLabelValues("corrupt").Inc()
		log.Warn().Msg("cached transcript unreadable, recomputing")
		return nil, false, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (p *Pipeline) fillTranscript(r *api.TranscribeResult, hash string, segments []subtitle.Segment) {
	_, srtPath, vttPath := p.store.TranscriptPaths(hash)
	r.Segments = segments
	if storage.FileExists(srtPath) {
		r.SRT = filepath.Base(srtPath)
	}
	r.VTT = filepath.Base(vttPath)
	r.VTTURL = mediaURL(api.StaticPath, r.VTT)
}

// Lookup implements api.TranscriptionService.
func (p *Pipeline) Lookup(_ context.Context, hash string) (*api.MediaRecord, error) {
	videoPath, err := p.store.FindUploadByHash(hash)
	if err != nil {
		return nil, err
	}

	rec := &api.MediaRecord{VideoURL: mediaURL(api.UploadsPath, filepath.Base(videoPath))}

	_, srtPath, vttPath := p.store.TranscriptPaths(hash)
	if storage.FileExists(vttPath) {
		u := mediaURL(api.StaticPath, filepath.Base(vttPath))
		rec.VTTURL = &u
	}
	if storage.FileExists(srtPath) {
		rec.SRT = filepath.Base(srtPath)
	}

	segments, err := p.store.ReadSegments(hash)
	switch {
	case err == nil:
		rec.Segments = segments
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrCorrupt):
	default:
		p.log.Warn().Err(err).Str("hash", hash).Msg("failed to read transcript")
	}
	return rec, nil
}

func (p *Pipeline) mirrorFile(key, path string) {
	if p.mirror != nil {
		p.mirror.Enqueue(key, path)
	}
}

func (p *Pipeline) notify(ev mqttclient.TranscriptEvent) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishTranscript(ev); err != nil {
		p.log.Warn().Err(err).Str("hash", ev.Hash).Msg("failed to publish transcript event")
		return
	}
	metrics.NotificationsPublishedTotal.Inc()
}

func mediaURL(prefix, name string) string {
	return prefix + "/" + url.PathEscape(name)
}
