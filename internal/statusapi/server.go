package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the local status API over the daemon's components.
type Server struct {
	cfg    Config
	server *http.Server
}

func NewServer(cfg Config, src Sources) *Server {
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: setupRoutes(cfg, src),
		// Timeouts to prevent slow client attacks
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Connection control
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &Server{
		cfg:    cfg,
		server: httpServer,
	}
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("status api start", "addr", fmt.Sprintf("http://%s", s.cfg.Addr), "auth", s.cfg.Token != "")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status api: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("status api stop")
	return s.server.Shutdown(ctx)
}
