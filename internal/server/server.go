package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kixikila/backend/internal/config"
)

// Server owns the HTTP listener lifecycle for the API.
type Server struct {
	inner  *http.Server
	logger *slog.Logger
}

// New wraps the router in a configured http.Server.
func New(logger *slog.Logger, cfg config.HTTPConfig, handler http.Handler) *Server {
	return &Server{
		inner: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called or the listener fails. A clean
// close is not reported as an error.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.inner.Addr)
	if err := s.inner.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("draining api connections")
	return s.inner.Shutdown(ctx)
}
