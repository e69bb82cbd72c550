package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/subtitle"
)

// GatewayOptions configures the transcription gateway.
type GatewayOptions struct {
	Factory          EngineFactory
	DefaultModelSize string
	CacheSize        int // engines kept loaded, one per model size
	BeamSize         int
	VADFilter        bool
	Temperature      float64
	ExtractAudio     bool
	Log              zerolog.Logger
}

// Gateway turns a media file into normalized segments. Engines are created
// lazily per model size and kept in a bounded LRU; evicted engines are
// closed.
type Gateway struct {
	factory     EngineFactory
	defaultSize string
	base        Request
	extract     bool
	log         zerolog.Logger

	mu      sync.Mutex
	engines *lru.Cache[string, Engine]
	loading map[string]*engineLoad
}

// engineLoad lets concurrent callers wait on a single construction.
type engineLoad struct {
	done   chan struct{}
	engine Engine
	err    error
}

// NewGateway creates a gateway.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	log := opts.Log.With().Str("component", "gateway").Logger()
	engines, err := lru.NewWithEvict(opts.CacheSize, func(size string, e Engine) {
		if err := e.Close(); err != nil {
			log.Warn().Err(err).Str("model_size", size).Msg("failed to close evicted engine")
			return
		}
		log.Info().Str("model_size", size).Str("model", e.Model()).Msg("engine evicted")
	})
	if err != nil {
		return nil, fmt.Errorf("engine cache: %w", err)
	}
	if opts.ExtractAudio && !FFmpegAvailable() {
		log.Warn().Msg("EXTRACT_AUDIO=true but ffmpeg not found in PATH; sending original media")
	}
	return &Gateway{
		factory:     opts.Factory,
		defaultSize: opts.DefaultModelSize,
		base: Request{
			BeamSize:    opts.BeamSize,
			VADFilter:   opts.VADFilter,
			Temperature: opts.Temperature,
		},
		extract: opts.ExtractAudio,
		log:     log,
		engines: engines,
		loading: make(map[string]*engineLoad),
	}, nil
}

// Transcribe runs the engine for modelSize (the default when empty) on
// mediaPath. Engine failures are returned as *EngineError; cancellation is
// returned as the context error.
func (g *Gateway) Transcribe(ctx context.Context, mediaPath, language, modelSize string) ([]subtitle.Segment, error) {
	size := strings.TrimSpace(modelSize)
	if size == "" {
		size = g.defaultSize
	}

	engine, err := g.engine(size)
	if err != nil {
		return nil, &EngineError{Engine: "factory", Model: size, Err: err}
	}

	input := mediaPath
	if g.extract {
		extracted, cleanup, err := ExtractAudio(ctx, mediaPath)
		if err != nil {
			g.log.Warn().Err(err).Str("path", mediaPath).Msg("audio extraction failed, using original media")
		} else {
			input = extracted
			defer cleanup()
		}
	}

	req := g.base
	req.Language = NormalizeLanguage(language)

	start := time.Now()
	raw, err := engine.Transcribe(ctx, input, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &EngineError{Engine: engine.Name(), Model: engine.Model(), Err: err}
	}

	g.log.Debug().
		Str("engine", engine.Name()).
		Str("model", engine.Model()).
		Str("language", req.Language).
		Int("segments", len(raw)).
		Dur("elapsed", time.Since(start)).
		Msg("engine finished")

	return Normalize(raw), nil
}

// engine returns the cached engine for size, constructing it at most once
// even when many requests ask for the same size at the same time.
func (g *Gateway) engine(size string) (Engine, error) {
	g.mu.Lock()
	if e, ok := g.engines.Get(size); ok {
		g.mu.Unlock()
		return e, nil
	}
	if l, ok := g.loading[size]; ok {
		g.mu.Unlock()
		<-l.done
		return l.engine, l.err
	}
	l := &engineLoad{done: make(chan struct{})}
	g.loading[size] = l
	g.mu.Unlock()

	l.engine, l.err = g.factory(size)

	g.mu.Lock()
	delete(g.loading, size)
	if l.err == nil {
		g.engines.Add(size, l.engine)
		g.log.Info().Str("model_size", size).Str("engine", l.engine.Name()).Str("model", l.engine.Model()).Msg("engine loaded")
	}
	g.mu.Unlock()
	close(l.done)

	return l.engine, l.err
}

// DefaultModelSize returns the size used when a request names none.
func (g *Gateway) DefaultModelSize() string { return g.defaultSize }

// LoadedModels returns the model sizes currently held, oldest first.
func (g *Gateway) LoadedModels() []string { return g.engines.Keys() }

// Close releases every cached engine.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engines.Purge()
}
