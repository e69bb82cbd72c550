package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/api"
)

const defaultSettleDelay = 2 * time.Second

// debounceEntry is the pending timer for one path. gen identifies which
// callback owns the map entry.
type debounceEntry struct {
	timer *time.Timer
	gen   uint64
}

// FileWatcher monitors an inbox directory for media files and feeds each one
// through the Pipeline with the default language and model size. Files are
// removed from the inbox once transcribed and left in place on failure.
type FileWatcher struct {
	pipeline *Pipeline
	inboxDir string
	settle   time.Duration
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Debounce: a file is processed once it has stopped changing for settle.
	debounceMu     sync.Mutex
	debounceTimers map[string]*debounceEntry
	debounceGen    uint64
	inflight       map[string]bool

	// Stats
	filesProcessed atomic.Int64
	filesFailed    atomic.Int64
	status         atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// NewFileWatcher creates a watcher for inboxDir.
func NewFileWatcher(p *Pipeline, inboxDir string, log zerolog.Logger) *FileWatcher {
	fw := &FileWatcher{
		pipeline:       p,
		inboxDir:       inboxDir,
		settle:         defaultSettleDelay,
		log:            log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*debounceEntry),
		inflight:       make(map[string]bool),
	}
	fw.status.Store("starting")
	return fw
}

// Start begins watching and backfills files already in the inbox.
func (fw *FileWatcher) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(fw.inboxDir); err != nil {
		w.Close()
		return err
	}
	fw.watcher = w
	fw.ctx, fw.cancel = context.WithCancel(context.Background())

	fw.log.Info().Str("inbox_dir", fw.inboxDir).Msg("inbox watcher initialized")

	fw.wg.Add(2)
	go fw.watchLoop()
	go fw.backfill()
	return nil
}

// Stop closes the fsnotify watcher, cancels in-flight transcriptions and waits
// for them to return.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
	}

	fw.debounceMu.Lock()
	for path, e := range fw.debounceTimers {
		if e.timer.Stop() {
			fw.wg.Done()
		}
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.wg.Wait()
	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_failed", fw.filesFailed.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       fw.inboxDir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesFailed:    fw.filesFailed.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !eligible(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// eligible skips hidden and partial files (".name", "name.part", "name.tmp").
func eligible(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".tmp", ".crdownload":
		return false
	}
	return true
}

// scheduleProcess debounces processing so a file still being copied into the
// inbox is not read half-written.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.ctx.Err() != nil || fw.inflight[path] {
		return
	}
	if e, ok := fw.debounceTimers[path]; ok && e.timer.Stop() {
		e.timer.Reset(fw.settle)
		return
	}

	// Either nothing is pending or the old timer already fired and its
	// callback is blocked on debounceMu. A fresh generation makes that
	// callback stand down.
	fw.debounceGen++
	gen := fw.debounceGen
	fw.wg.Add(1)
	fw.debounceTimers[path] = &debounceEntry{
		timer: time.AfterFunc(fw.settle, func() { fw.fire(path, gen) }),
		gen:   gen,
	}
}

func (fw *FileWatcher) fire(path string, gen uint64) {
	defer fw.wg.Done()

	fw.debounceMu.Lock()
	e, ok := fw.debounceTimers[path]
	if !ok || e.gen != gen || fw.inflight[path] {
		fw.debounceMu.Unlock()
		return
	}
	delete(fw.debounceTimers, path)
	fw.inflight[path] = true
	fw.debounceMu.Unlock()

	fw.processFile(path)

	fw.debounceMu.Lock()
	delete(fw.inflight, path)
	fw.debounceMu.Unlock()
}

// processFile transcribes one inbox file and removes it on success.
func (fw *FileWatcher) processFile(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return // removed meanwhile, or a directory
	}

	f, err := os.Open(path)
	if err != nil {
		fw.filesFailed.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to open inbox file")
		return
	}
	name := filepath.Base(path)
	result, err := fw.pipeline.Transcribe(fw.ctx, api.TranscribeRequest{
		Filename: name,
		File:     f,
		FileID:   "inbox:" + name,
	})
	f.Close()
	if err != nil {
		if fw.ctx.Err() != nil {
			return // shutting down; the file is retried by the next backfill
		}
		fw.filesFailed.Add(1)
		fw.log.Warn().Err(err).Str("path", path).Msg("inbox transcription failed, leaving file in place")
		return
	}

	if err := os.Remove(path); err != nil {
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to remove processed inbox file")
	}
	fw.filesProcessed.Add(1)
	fw.log.Info().
		Str("path", path).
		Str("hash", result.Hash).
		Bool("cache", result.Cache).
		Msg("inbox file transcribed")
}

// backfill processes files that were already in the inbox before the watcher
// started, oldest first.
func (fw *FileWatcher) backfill() {
	defer fw.wg.Done()
	fw.status.Store("backfilling")

	entries, err := os.ReadDir(fw.inboxDir)
	if err != nil {
		fw.log.Warn().Err(err).Msg("backfill: read inbox failed")
		fw.status.Store("watching")
		return
	}

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	for _, e := range entries {
		if !e.Type().IsRegular() || !eligible(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{path: filepath.Join(fw.inboxDir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	if len(files) > 0 {
		fw.log.Info().Int("files", len(files)).Msg("backfill starting")
	}
	for _, f := range files {
		if fw.ctx.Err() != nil {
			return
		}
		fw.scheduleProcess(f.path)
	}

	if s, _ := fw.status.Load().(string); s != "stopped" {
		fw.status.Store("watching")
	}
}
