package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/metrics"
)

const maxUploadAttempts = 4

// AsyncUploader pushes finished artifacts to S3 without blocking requests.
// Files are already on local disk before being enqueued here; anything that
// still fails after retries is picked up by the reconciler.
type AsyncUploader struct {
	s3       *S3Store
	ch       chan uploadJob
	workers  int
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type uploadJob struct {
	key  string
	path string
}

// NewAsyncUploader creates an async S3 uploader with the given buffer size.
func NewAsyncUploader(s3 *S3Store, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		s3:      s3,
		ch:      make(chan uploadJob, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking; drops with a warning if full or stopped.
func (u *AsyncUploader) Enqueue(key, path string) {
	if u.stopped.Load() {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, path: path}:
	default:
		metrics.MirrorUploadsTotal.WithLabelValues("dropped").Inc()
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (reconciler will retry)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop stops accepting jobs and waits for queued uploads to drain.
func (u *AsyncUploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		if err := u.upload(job); err != nil {
			metrics.MirrorUploadsTotal.WithLabelValues("error").Inc()
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (file safe on disk)")
			continue
		}
		metrics.MirrorUploadsTotal.WithLabelValues("ok").Inc()
	}
}

func (u *AsyncUploader) upload(job uploadJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	op := func() error {
		f, err := os.Open(job.path)
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		defer f.Close()
		attemptCtx, attemptCancel := context.WithTimeout(ctx, time.Minute)
		defer attemptCancel()
		return u.s3.Save(attemptCtx, job.key, f, ContentType(filepath.Ext(job.path)))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxUploadAttempts-1), ctx))
}
