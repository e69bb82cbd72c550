package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TempSweeper removes orphaned temp files: uploads left under a non-canonical
// name by a crash between saving and canonicalizing, and interrupted
// transcript writes. It also drops idle lock files for hashes whose
// transcript is complete. Canonical artifacts are never touched.
type TempSweeper struct {
	local     *LocalStore
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewTempSweeper creates a sweeper that deletes orphans older than retention.
func NewTempSweeper(local *LocalStore, retention time.Duration, log zerolog.Logger) *TempSweeper {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return &TempSweeper{
		local:     local,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "temp-sweeper").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *TempSweeper) Start() {
	go p.loop()
}

func (p *TempSweeper) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *TempSweeper) loop() {
	// Run once on startup to clear anything left by a crash
	p.Sweep()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.stop:
			return
		}
	}
}

// Sweep runs one pass and returns the number of files removed.
func (p *TempSweeper) Sweep() int {
	if p.retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-p.retention)

	removed := p.sweepDir(p.local.UploadDir(), cutoff, func(name string) bool {
		return !isCanonicalName(name)
	})
	removed += p.sweepDir(p.local.TranscriptDir(), cutoff, func(name string) bool {
		return strings.HasPrefix(name, tempPrefix)
	})
	removed += p.sweepLocks(cutoff)

	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("orphaned temp files removed")
	}
	return removed
}

func (p *TempSweeper) sweepDir(dir string, cutoff time.Time, orphan func(string) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.log.Warn().Err(err).Str("dir", dir).Msg("sweep: read dir failed")
		return 0
	}
	var removed int
	for _, e := range entries {
		if !e.Type().IsRegular() || !orphan(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("sweep: remove failed")
			continue
		}
		removed++
	}
	return removed
}

// sweepLocks removes lock files older than cutoff that nobody holds, but only
// for hashes with a complete transcript. Later requests for those hashes are
// cache hits, so a lock file recreated for them guards no writes.
func (p *TempSweeper) sweepLocks(cutoff time.Time) int {
	entries, err := os.ReadDir(p.local.lockDir)
	if err != nil {
		p.log.Warn().Err(err).Str("dir", p.local.lockDir).Msg("sweep: read dir failed")
		return 0
	}
	var removed int
	for _, e := range entries {
		hash, ok := strings.CutSuffix(e.Name(), ".lock")
		if !ok || !e.Type().IsRegular() || !IsHash(hash) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) || !p.local.TranscriptExists(hash) {
			continue
		}
		done, err := p.local.removeIdleLock(hash)
		if err != nil {
			p.log.Warn().Err(err).Str("hash", hash).Msg("sweep: remove lock failed")
			continue
		}
		if done {
			removed++
		}
	}
	return removed
}
