package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/subtitle"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("transcription queue full")
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("transcription pool stopped")
)

// Transcriber is what the pool runs jobs against; *Gateway satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, language, modelSize string) ([]subtitle.Segment, error)
}

// Job is one transcription request.
type Job struct {
	Hash      string // for logs
	MediaPath string
	Language  string
	ModelSize string
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPoolOptions configures the transcription worker pool.
type WorkerPoolOptions struct {
	Transcriber Transcriber
	Workers     int
	QueueSize   int
	Log         zerolog.Logger
}

type task struct {
	Job
	ctx      context.Context
	enqueued time.Time
	done     chan taskResult
}

type taskResult struct {
	segments []subtitle.Segment
	err      error
}

// WorkerPool bounds how many engine calls run at once. Requests beyond the
// worker count wait in a fixed-size queue.
type WorkerPool struct {
	jobs chan *task
	t    Transcriber
	opts WorkerPoolOptions
	log  zerolog.Logger
	wg   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new transcription worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	return &WorkerPool{
		jobs: make(chan *task, opts.QueueSize),
		t:    opts.Transcriber,
		opts: opts,
		log:  opts.Log.With().Str("component", "transcribe-pool").Logger(),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("transcription worker pool started")
}

// Stop refuses new jobs, lets queued ones finish and waits for the workers.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("transcription worker pool stopped")
}

// Submit queues j and blocks until it has run or ctx is done. A full queue
// fails fast with ErrQueueFull.
func (wp *WorkerPool) Submit(ctx context.Context, j Job) ([]subtitle.Segment, error) {
	t := &task{Job: j, ctx: ctx, enqueued: time.Now(), done: make(chan taskResult, 1)}

	wp.mu.RLock()
	if wp.stopped {
		wp.mu.RUnlock()
		return nil, ErrPoolStopped
	}
	select {
	case wp.jobs <- t:
	default:
		wp.mu.RUnlock()
		return nil, ErrQueueFull
	}
	wp.mu.RUnlock()

	select {
	case r := <-t.done:
		return r.segments, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Active:    wp.active.Load(),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for t := range wp.jobs {
		// The submitter gave up while the job was queued
		if err := t.ctx.Err(); err != nil {
			t.done <- taskResult{err: err}
			continue
		}

		wp.active.Add(1)
		start := time.Now()
		segments, err := wp.t.Transcribe(t.ctx, t.MediaPath, t.Language, t.ModelSize)
		wp.active.Add(-1)

		if err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).
				Str("hash", t.Hash).
				Str("model_size", t.ModelSize).
				Msg("transcription failed")
		} else {
			wp.completed.Add(1)
			log.Debug().
				Str("hash", t.Hash).
				Int("segments", len(segments)).
				Dur("queued", start.Sub(t.enqueued)).
				Dur("elapsed", time.Since(start)).
				Msg("transcription complete")
		}
		t.done <- taskResult{segments: segments, err: err}
	}
}
