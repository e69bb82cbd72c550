package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans both local directories for canonical artifacts
// missing from S3 and re-uploads them. Handles failed/dropped async uploads
// and crash recovery.
type UploadReconciler struct {
	local    *LocalStore
	s3       *S3Store
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(local *LocalStore, s3 *S3Store, interval time.Duration, log zerolog.Logger) *UploadReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &UploadReconciler{
		local:    local,
		s3:       s3,
		interval: interval,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) reconcile() {
	var uploaded, failed, checked int

	dirs := []struct {
		path string
		key  func(string) string
	}{
		{r.local.UploadDir(), UploadKey},
		{r.local.TranscriptDir(), TranscriptKey},
	}

	for _, d := range dirs {
		entries, _ := os.ReadDir(d.path)
		for _, e := range entries {
			if !e.Type().IsRegular() || !isCanonicalName(e.Name()) {
				continue
			}
			checked++
			key := d.key(e.Name())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.s3.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			path := filepath.Join(d.path, e.Name())
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			ctx, cancel = context.WithTimeout(context.Background(), 5*time.Minute)
			if saveErr := r.s3.Save(ctx, key, f, ContentType(filepath.Ext(path))); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed++
			} else {
				uploaded++
			}
			cancel()
			f.Close()
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
}
