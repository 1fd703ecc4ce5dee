package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Service runs an http.Server as a worker.Worker: it serves until ctx is
// cancelled, then shuts down gracefully.
type Service struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewService wraps handler in an http.Server listening on addr.
func NewService(addr string, handler http.Handler, shutdownTimeout time.Duration) *Service {
	return &Service{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Name returns the worker identifier.
func (s *Service) Name() string { return "status_server" }

// Run implements worker.Worker.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("status server listening", "addr", s.srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
