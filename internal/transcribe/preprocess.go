package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

var ffmpeg struct {
	once sync.Once
	path string
}

// FFmpegAvailable reports whether ffmpeg is in PATH. The lookup runs once.
func FFmpegAvailable() bool {
	ffmpeg.once.Do(func() {
		ffmpeg.path, _ = exec.LookPath("ffmpeg")
	})
	return ffmpeg.path != ""
}

// ExtractAudio strips the video track and resamples to 16 kHz mono WAV,
// which every engine accepts and which is far smaller to upload than the
// source video.
//
// Returns the path to a temporary WAV file and a cleanup function. If ffmpeg
// is unavailable, returns the original path with a no-op cleanup.
func ExtractAudio(ctx context.Context, inputPath string) (string, func(), error) {
	noop := func() {}

	if !FFmpegAvailable() {
		return inputPath, noop, nil
	}

	out, err := os.CreateTemp("", "subcache-audio-*.wav")
	if err != nil {
		return inputPath, noop, fmt.Errorf("create temp audio: %w", err)
	}
	outPath := out.Name()
	out.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg.path,
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outPath,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return inputPath, noop, fmt.Errorf("ffmpeg extract audio: %w: %s", err, msg)
		}
		return inputPath, noop, fmt.Errorf("ffmpeg extract audio: %w", err)
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}
