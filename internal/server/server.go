package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"prism/internal/studio"
)

type Config struct {
	Addr        string
	HealthPath  string
	MetricsPath string
	Studio      *studio.Studio
	Logger      zerolog.Logger
}

// Server exposes the studio flows over a local HTTP API.
type Server struct {
	cfg    Config
	studio *studio.Studio
	logger zerolog.Logger
}

func New(cfg Config) *Server {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{cfg: cfg, studio: cfg.Studio, logger: cfg.Logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET "+s.cfg.MetricsPath, promhttp.Handler())

	mux.HandleFunc("POST /api/chat", s.chat)
	mux.HandleFunc("POST /api/images", s.images)
	mux.HandleFunc("POST /api/edits", s.edits)
	mux.HandleFunc("GET /api/models", s.models)
	mux.HandleFunc("GET /api/history/{log}", s.listHistory)
	mux.HandleFunc("DELETE /api/history/{log}", s.clearHistory)
	mux.HandleFunc("DELETE /api/history/{log}/{id}", s.removeHistory)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stop http server: %w", err)
	}
	return nil
}
