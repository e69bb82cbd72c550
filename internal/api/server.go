package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/subcache/internal/config"
	"github.com/snarg/subcache/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

type ServerOptions struct {
	Config    *config.Config
	Service   TranscriptionService
	Health    HealthSources
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	log := opts.Log.With().Str("component", "http").Logger()

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the full route tree. Split out of NewServer for tests.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	log := opts.Log.With().Str("component", "http").Logger()

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// Probes and metrics: no auth
	health := NewHealthHandler(opts.Health, opts.Version, opts.StartTime)
	r.Get("/ping", Ping)
	r.Get("/healthz", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	NewMediaHandler(opts.Service).Routes(r)
	r.Get(UploadsPath+"/*", StaticDir(cfg.UploadDir))
	r.Get(StaticPath+"/*", StaticDir(cfg.TranscriptDir))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		NewTranscribeHandler(opts.Service, cfg.MaxUploadMB<<20, log).Routes(r)
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
