package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/subtitle"
)

func TestTempSweeper_Sweep(t *testing.T) {
	s := newTestStore(t)
	h := sha([]byte("keep"))
	old := time.Now().Add(-48 * time.Hour)

	write := func(dir, name string, mtime time.Time) string {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte("x"), 0o644)
		os.Chtimes(p, mtime, mtime)
		return p
	}

	canonical := write(s.UploadDir(), h+".mp4", old)
	orphan := write(s.UploadDir(), "talk_1.mp4", old)
	fresh := write(s.UploadDir(), "talk.mp4", time.Now())
	record := write(s.TranscriptDir(), h+".json", old)
	staleTmp := write(s.TranscriptDir(), tempPrefix+"123", old)

	sw := NewTempSweeper(s, 24*time.Hour, zerolog.Nop())
	if n := sw.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d files, want 2", n)
	}

	for _, p := range []string{canonical, fresh, record} {
		if !FileExists(p) {
			t.Errorf("%s should be kept", filepath.Base(p))
		}
	}
	for _, p := range []string{orphan, staleTmp} {
		if FileExists(p) {
			t.Errorf("%s should be removed", filepath.Base(p))
		}
	}
}

func TestTempSweeper_Locks(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	segs := []subtitle.Segment{{Start: 0, End: 1, Text: "hi"}}

	complete := sha([]byte("complete"))
	pending := sha([]byte("pending"))
	held := sha([]byte("held"))
	for _, h := range []string{complete, held} {
		if err := s.WriteTranscript(h, segs, subtitle.SRT(segs), subtitle.VTT(segs)); err != nil {
			t.Fatal(err)
		}
	}
	for _, h := range []string{complete, pending} {
		os.WriteFile(s.lockPath(h), nil, 0o644)
	}
	unlock, err := s.Lock(context.Background(), held)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	for _, h := range []string{complete, pending, held} {
		os.Chtimes(s.lockPath(h), old, old)
	}

	sw := NewTempSweeper(s, 24*time.Hour, zerolog.Nop())
	if n := sw.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d files, want 1", n)
	}
	if FileExists(s.lockPath(complete)) {
		t.Error("idle lock for a complete transcript should be removed")
	}
	if !FileExists(s.lockPath(pending)) {
		t.Error("lock without a transcript should be kept")
	}
	if !FileExists(s.lockPath(held)) {
		t.Error("held lock should be kept")
	}

	again, err := s.Lock(context.Background(), complete)
	if err != nil {
		t.Fatalf("Lock after sweep: %v", err)
	}
	again()
}

func TestTempSweeper_Disabled(t *testing.T) {
	s := newTestStore(t)
	p := filepath.Join(s.UploadDir(), "orphan.mp4")
	os.WriteFile(p, []byte("x"), 0o644)
	old := time.Now().Add(-time.Hour)
	os.Chtimes(p, old, old)

	if n := NewTempSweeper(s, 0, zerolog.Nop()).Sweep(); n != 0 {
		t.Errorf("disabled sweeper removed %d files", n)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		".vtt":  "text/vtt; charset=utf-8",
		".srt":  "application/x-subrip",
		".JSON": "application/json",
		".zzz":  "application/octet-stream",
	}
	for ext, want := range tests {
		if got := ContentType(ext); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", ext, got, want)
		}
	}
}
