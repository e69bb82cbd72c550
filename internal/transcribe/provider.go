package transcribe

import (
	"context"
	"errors"
)

// Engine is the interface for speech-to-text backends. Implementations are
// safe for concurrent use.
type Engine interface {
	Transcribe(ctx context.Context, mediaPath string, req Request) ([]RawSegment, error)
	Name() string  // "whisper", "openai", "deepinfra"
	Model() string // model identifier for logs
	Close() error
}

// EngineFactory builds the engine for one model size.
type EngineFactory func(modelSize string) (Engine, error)

// Request carries per-call decoding options.
type Request struct {
	Language    string // empty = let the engine detect
	BeamSize    int    // 0 = engine default
	VADFilter   bool
	Temperature float64
}

// RawSegment is a segment as reported by an engine. Any field may be absent.
type RawSegment struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Text  *string  `json:"text"`
}

// ErrNoSegments means the engine finished but produced no segments.
var ErrNoSegments = errors.New("no segments produced")

// EngineError wraps a failure reported by an engine. Its message is the
// engine's own message.
type EngineError struct {
	Engine string
	Model  string
	Err    error
}

func (e *EngineError) Error() string { return e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }
