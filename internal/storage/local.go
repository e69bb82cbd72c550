package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/subtitle"
)

// hashChunkSize bounds memory while hashing arbitrarily large media.
const hashChunkSize = 1 << 20

// LocalStore owns the on-disk layout: uploads/{hash}.{ext} for media and
// transcripts/{hash}.json|.srt|.vtt for results. Locks live in a third directory.
type LocalStore struct {
	uploadDir     string
	transcriptDir string
	lockDir       string
	log           zerolog.Logger
}

// NewLocalStore creates a content store over the given directories.
// Call EnsureDirectories before use.
func NewLocalStore(uploadDir, transcriptDir, lockDir string, log zerolog.Logger) *LocalStore {
	return &LocalStore{
		uploadDir:     uploadDir,
		transcriptDir: transcriptDir,
		lockDir:       lockDir,
		log:           log.With().Str("component", "storage").Logger(),
	}
}

// UploadDir returns the media directory path.
func (s *LocalStore) UploadDir() string { return s.uploadDir }

// TranscriptDir returns the transcript directory path.
func (s *LocalStore) TranscriptDir() string { return s.transcriptDir }

// EnsureDirectories creates the store's directories if missing.
func (s *LocalStore) EnsureDirectories() error {
	return EnsureDirectories(s.uploadDir, s.transcriptDir, s.lockDir)
}

// CheckWritable verifies each store directory accepts new files.
func (s *LocalStore) CheckWritable() error {
	for _, dir := range []string{s.uploadDir, s.transcriptDir, s.lockDir} {
		f, err := os.CreateTemp(dir, tempPrefix+"probe-*")
		if err != nil {
			return fmt.Errorf("%s not writable: %w", dir, err)
		}
		f.Close()
		os.Remove(f.Name())
	}
	return nil
}

// EnsureDirectories creates each directory, including parents. Existing
// directories are not an error.
func EnsureDirectories(paths ...string) error {
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", p, err)
		}
	}
	return nil
}

// ComputeContentHash streams r through SHA-256 in fixed-size chunks and
// returns the lowercase hex digest.
func ComputeContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	// Hide any WriterTo so the copy goes through buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{r}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the content hash of a file on disk.
func (s *LocalStore) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	sum, err := ComputeContentHash(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

// IsHash reports whether s is a 64-char lowercase hex digest.
func IsHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// isCanonicalName reports whether a file name is {hash} or {hash}.{ext}.
func isCanonicalName(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	return IsHash(stem)
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

// CanonicalUploadPath maps a hash and extension to its media path.
func (s *LocalStore) CanonicalUploadPath(hash, ext string) string {
	return filepath.Join(s.uploadDir, hash+normalizeExt(ext))
}

// FindUploadByHash returns the stored media for hash regardless of its
// extension, or ErrNotFound.
func (s *LocalStore) FindUploadByHash(hash string) (string, error) {
	if !IsHash(hash) {
		return "", ErrNotFound
	}
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.uploadDir, err)
	}
	var matches []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() {
			continue
		}
		if name == hash || strings.HasPrefix(name, hash+".") {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(matches)
	return filepath.Join(s.uploadDir, matches[0]), nil
}

// ArtifactExists reports whether media for hash is stored.
func (s *LocalStore) ArtifactExists(hash string) bool {
	_, err := s.FindUploadByHash(hash)
	return err == nil
}

// TranscriptPaths returns the JSON, SRT and VTT paths for hash.
func (s *LocalStore) TranscriptPaths(hash string) (jsonPath, srtPath, vttPath string) {
	base := filepath.Join(s.transcriptDir, hash)
	return base + ".json", base + ".srt", base + ".vtt"
}

// TranscriptExists reports whether both the segment document and the VTT
// rendering exist for hash.
func (s *LocalStore) TranscriptExists(hash string) bool {
	jsonPath, _, vttPath := s.TranscriptPaths(hash)
	return FileExists(jsonPath) && FileExists(vttPath)
}

// WriteTranscript persists {hash}.srt, {hash}.vtt and {hash}.json. Each file is
// written atomically and the JSON document goes last, so an interrupted write
// never yields a record that TranscriptExists accepts.
func (s *LocalStore) WriteTranscript(hash string, segments []subtitle.Segment, srt, vtt string) error {
	if segments == nil {
		segments = []subtitle.Segment{}
	}
	var doc bytes.Buffer
	enc := json.NewEncoder(&doc)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(segments); err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}

	jsonPath, srtPath, vttPath := s.TranscriptPaths(hash)
	if err := writeAtomic(srtPath, []byte(srt)); err != nil {
		return err
	}
	if err := writeAtomic(vttPath, []byte(vtt)); err != nil {
		return err
	}
	return writeAtomic(jsonPath, bytes.TrimRight(doc.Bytes(), "\n"))
}

// ReadSegments loads the stored segment document for hash. A missing document
// is ErrNotFound; one that fails to parse is ErrCorrupt.
func (s *LocalStore) ReadSegments(hash string) ([]subtitle.Segment, error) {
	jsonPath, _, _ := s.TranscriptPaths(hash)
	data, err := os.ReadFile(jsonPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", jsonPath, err)
	}
	var segments []subtitle.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		s.log.Warn().Err(err).Str("hash", hash).Msg("unparsable transcript document")
		return nil, ErrCorrupt
	}
	if segments == nil {
		// "null" is not a document we ever write
		return nil, ErrCorrupt
	}
	return segments, nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// writeAtomic writes data via a temp file in the same directory and a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// tempPrefix marks in-flight transcript writes; the sweeper removes stale ones.
const tempPrefix = ".tmp-"
