package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// Lock takes the exclusive per-hash lock that serializes canonicalization and
// cache population for one piece of content. Waiting honours ctx. The returned
// func releases the lock.
func (s *LocalStore) Lock(ctx context.Context, hash string) (func(), error) {
	if !IsHash(hash) {
		return nil, fmt.Errorf("lock: invalid hash %q", hash)
	}
	path := s.lockPath(hash)
	for {
		fl := flock.New(path)
		ok, err := fl.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", hash, err)
		}
		if !ok {
			return nil, fmt.Errorf("lock %s: not acquired", hash)
		}
		// The sweeper may have unlinked the file while we waited; a lock on
		// an unlinked file excludes nobody.
		if FileExists(path) {
			return func() {
				if err := fl.Unlock(); err != nil {
					s.log.Warn().Err(err).Str("hash", hash).Msg("failed to release hash lock")
				}
			}, nil
		}
		fl.Unlock()
	}
}

func (s *LocalStore) lockPath(hash string) string {
	return filepath.Join(s.lockDir, hash+".lock")
}

// removeIdleLock deletes the lock file for hash if nobody holds it. The lock
// is held across the removal so a concurrent Lock either waits and then sees
// the file gone, or opens a fresh one.
func (s *LocalStore) removeIdleLock(hash string) (bool, error) {
	path := s.lockPath(hash)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil || !ok {
		return false, err
	}
	defer fl.Unlock()
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}
