package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// maxTempSuffix bounds the collision-free name search.
const maxTempSuffix = 10000

// TempFile is an upload persisted under a temporary, non-canonical name in
// the upload directory. Callers defer Discard so the file never outlives the
// request, whatever the exit path.
type TempFile struct {
	Path     string
	Filename string // sanitized original filename

	store *LocalStore
	once  sync.Once
}

// Discard removes the temp file. It is idempotent and a no-op once the file
// has been moved into place. Failures are logged, never returned.
func (t *TempFile) Discard() {
	t.once.Do(func() {
		if err := os.Remove(t.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.store.log.Warn().Err(err).Str("path", t.Path).Msg("failed to remove temp upload")
		}
	})
}

// released marks the file as moved so Discard leaves the path alone.
func (t *TempFile) released() {
	t.once.Do(func() {})
}

// SaveTemp streams r into the upload directory under the original filename,
// appending _1, _2, ... to the stem when that name is taken. Names are claimed
// with O_EXCL so concurrent uploads sharing a filename never clobber each other.
func (s *LocalStore) SaveTemp(ctx context.Context, filename string, r io.Reader) (*TempFile, error) {
	name := sanitizeFilename(filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	var f *os.File
	var path string
	for i := 0; ; i++ {
		if i > maxTempSuffix {
			return nil, fmt.Errorf("no free temp name for %q", name)
		}
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path = filepath.Join(s.uploadDir, candidate)
		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create temp upload: %w", err)
		}
		break
	}

	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write temp upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close temp upload: %w", err)
	}

	return &TempFile{Path: path, Filename: name, store: s}, nil
}

// Extension picks the artifact extension: the original filename's, else the
// temp file's. Case is preserved.
func Extension(originalName, tempPath string) string {
	if ext := filepath.Ext(filepath.Base(originalName)); ext != "" && ext != "." {
		return ext
	}
	if ext := filepath.Ext(tempPath); ext != "." {
		return ext
	}
	return ""
}

// Canonicalize settles a temp upload under its content hash. If media for the
// hash is already stored (under any extension) the temp file is discarded and
// the existing path returned with duplicate=true; the first-seen extension
// wins. Otherwise the temp file is renamed into place, falling back to
// copy-then-delete when the rename fails. Copy failures abort; cleanup
// failures do not.
//
// Callers hold Lock(hash) so the existence check and the move are not raced.
func (s *LocalStore) Canonicalize(t *TempFile, hash, ext string) (path string, duplicate bool, err error) {
	existing, err := s.FindUploadByHash(hash)
	if err == nil {
		t.Discard()
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	canonical := s.CanonicalUploadPath(hash, ext)
	renameErr := os.Rename(t.Path, canonical)
	if renameErr == nil {
		t.released()
		return canonical, false, nil
	}
	s.log.Debug().Err(renameErr).Str("hash", hash).Msg("rename failed, falling back to copy")

	if err := copyExclusive(t.Path, canonical); err != nil {
		return "", false, fmt.Errorf("canonicalize %s: %w", hash, err)
	}
	t.Discard()
	return canonical, false, nil
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// sanitizeFilename reduces a client-supplied name to a safe base name that can
// never be mistaken for a canonical artifact.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "upload"
	}
	if isCanonicalName(name) {
		return "upload-" + name
	}
	return name
}

// ctxReader aborts a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
