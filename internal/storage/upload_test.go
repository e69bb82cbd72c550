package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSaveTemp_CollisionFreeNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SaveTemp(ctx, "clip.mp4", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("SaveTemp: %v", err)
	}
	second, err := s.SaveTemp(ctx, "clip.mp4", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("SaveTemp: %v", err)
	}
	third, err := s.SaveTemp(ctx, "clip.mp4", strings.NewReader("three"))
	if err != nil {
		t.Fatalf("SaveTemp: %v", err)
	}

	wantNames := []string{"clip.mp4", "clip_1.mp4", "clip_2.mp4"}
	for i, tf := range []*TempFile{first, second, third} {
		if filepath.Base(tf.Path) != wantNames[i] {
			t.Errorf("temp %d = %s, want %s", i, filepath.Base(tf.Path), wantNames[i])
		}
	}
	if data, _ := os.ReadFile(first.Path); string(data) != "one" {
		t.Errorf("first temp clobbered: %q", data)
	}
}

func TestSaveTemp_ConcurrentSameName(t *testing.T) {
	s := newTestStore(t)
	const n = 8
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tf, err := s.SaveTemp(context.Background(), "same.wav", bytes.NewReader([]byte{byte(i)}))
			errs[i] = err
			if err == nil {
				paths[i] = tf.Path
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("upload %d: %v", i, errs[i])
		}
		if seen[paths[i]] {
			t.Fatalf("duplicate temp path %s", paths[i])
		}
		seen[paths[i]] = true
		data, _ := os.ReadFile(paths[i])
		if len(data) != 1 || data[0] != byte(i) {
			t.Errorf("upload %d content = %v", i, data)
		}
	}
}

func TestSaveTemp_SanitizesFilename(t *testing.T) {
	s := newTestStore(t)
	hashName := sha([]byte("x")) + ".mp4"
	tests := []struct {
		in   string
		want string
	}{
		{"../../etc/passwd", "passwd"},
		{`C:\videos\talk.mkv`, "talk.mkv"},
		{"", "upload"},
		{".hidden", "upload"},
		{hashName, "upload-" + hashName},
	}
	for _, tt := range tests {
		tf, err := s.SaveTemp(context.Background(), tt.in, strings.NewReader("x"))
		if err != nil {
			t.Fatalf("SaveTemp(%q): %v", tt.in, err)
		}
		if filepath.Dir(tf.Path) != s.UploadDir() {
			t.Errorf("SaveTemp(%q) escaped the upload dir: %s", tt.in, tf.Path)
		}
		if got := filepath.Base(tf.Path); got != tt.want {
			t.Errorf("SaveTemp(%q) name = %q, want %q", tt.in, got, tt.want)
		}
		tf.Discard()
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSaveTemp_FailureRemovesFile(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.SaveTemp(context.Background(), "broken.mp4", io.MultiReader(strings.NewReader("partial"), failingReader{})); err == nil {
		t.Fatal("expected error from failing reader")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.SaveTemp(ctx, "cancelled.mp4", strings.NewReader("data")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	entries, _ := os.ReadDir(s.UploadDir())
	if len(entries) != 0 {
		t.Errorf("upload dir should be empty, has %d entries", len(entries))
	}
}

func TestTempFile_DiscardIdempotent(t *testing.T) {
	s := newTestStore(t)
	tf, err := s.SaveTemp(context.Background(), "a.mp3", strings.NewReader("a"))
	if err != nil {
		t.Fatal(err)
	}
	tf.Discard()
	tf.Discard()
	if FileExists(tf.Path) {
		t.Error("temp file still exists after Discard")
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		original, temp, want string
	}{
		{"talk.MP4", "/u/talk.MP4", ".MP4"},
		{"noext", "/u/noext.bin", ".bin"},
		{"noext", "/u/noext", ""},
		{"trailing.", "/u/trailing.", ""},
		{"", "/u/upload_1.wav", ".wav"},
	}
	for _, tt := range tests {
		if got := Extension(tt.original, tt.temp); got != tt.want {
			t.Errorf("Extension(%q, %q) = %q, want %q", tt.original, tt.temp, got, tt.want)
		}
	}
}

func TestCanonicalize_NewArtifact(t *testing.T) {
	s := newTestStore(t)
	data := []byte("fresh media")
	tf, _ := s.SaveTemp(context.Background(), "fresh.mp4", bytes.NewReader(data))
	h, _ := s.HashFile(tf.Path)

	path, dup, err := s.Canonicalize(tf, h, ".mp4")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if dup {
		t.Error("duplicate = true for new content")
	}
	if path != s.CanonicalUploadPath(h, ".mp4") {
		t.Errorf("path = %s", path)
	}
	if FileExists(tf.Path) {
		t.Error("temp file should have been moved")
	}

	// Discard after a successful move must not delete the artifact.
	tf.Discard()
	if got, _ := os.ReadFile(path); !bytes.Equal(got, data) {
		t.Errorf("artifact content = %q", got)
	}
}

func TestCanonicalize_DuplicateKeepsFirstExtension(t *testing.T) {
	s := newTestStore(t)
	data := []byte("identical bytes")
	ctx := context.Background()

	first, _ := s.SaveTemp(ctx, "a.mp4", bytes.NewReader(data))
	h, _ := s.HashFile(first.Path)
	firstPath, _, err := s.Canonicalize(first, h, ".mp4")
	if err != nil {
		t.Fatal(err)
	}

	second, _ := s.SaveTemp(ctx, "renamed.mov", bytes.NewReader(data))
	h2, _ := s.HashFile(second.Path)
	if h2 != h {
		t.Fatalf("hash differs for identical bytes")
	}
	path, dup, err := s.Canonicalize(second, h2, ".mov")
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if !dup {
		t.Error("duplicate = false for identical content")
	}
	if path != firstPath {
		t.Errorf("path = %s, want first-seen %s", path, firstPath)
	}
	if FileExists(second.Path) {
		t.Error("duplicate temp file should be deleted")
	}

	entries, _ := os.ReadDir(s.UploadDir())
	if len(entries) != 1 {
		t.Errorf("upload dir has %d files, want exactly 1", len(entries))
	}
}

func TestCopyExclusive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("payload"), 0o644)

	if err := copyExclusive(src, dst); err != nil {
		t.Fatalf("copyExclusive: %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "payload" {
		t.Errorf("dst = %q", got)
	}
	if err := copyExclusive(src, dst); err == nil {
		t.Error("copyExclusive must refuse to overwrite an existing file")
	}
	if err := copyExclusive(filepath.Join(dir, "missing"), filepath.Join(dir, "other")); err == nil {
		t.Error("copyExclusive from a missing source should fail")
	}
	if FileExists(filepath.Join(dir, "other")) {
		t.Error("failed copy left a destination file")
	}
}
