package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/config"
)

var (
	// ErrNotFound is returned when no artifact or transcript exists for a hash.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when a stored transcript document cannot be parsed.
	ErrCorrupt = errors.New("corrupt transcript document")
)

// Mirror receives finished artifacts for off-box backup. Enqueue must not block.
type Mirror interface {
	Enqueue(key, path string)
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// UploadKey is the mirror key for a file in the upload directory.
func UploadKey(name string) string { return "uploads/" + name }

// TranscriptKey is the mirror key for a file in the transcript directory.
func TranscriptKey(name string) string { return "transcripts/" + name }

// NewMirror creates the S3 mirror and the background services the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func NewMirror(cfg config.S3Config, local *LocalStore, log zerolog.Logger) (*S3Store, *AsyncUploader, []BackgroundService, error) {
	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	uploader := NewAsyncUploader(s3store, cfg.UploadQueueSize, cfg.UploadWorkers, log)
	reconciler := NewUploadReconciler(local, s3store, cfg.ReconcileInterval, log)

	return s3store, uploader, []BackgroundService{uploader, reconciler}, nil
}
