package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var (
	ErrServerRunning    = errors.New("server already running")
	ErrServerNotRunning = errors.New("server not running")
)

// Server wraps an http.Server with guarded start/stop transitions so a
// double start or a stop of an idle server fails instead of racing.
type Server struct {
	mu      sync.Mutex
	addr    string
	handler http.Handler
	srv     *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{addr: addr, handler: handler}
}

// Start begins serving and blocks until the listener stops. A second
// Start while the server is running returns ErrServerRunning.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	err := srv.ListenAndServe()

	s.mu.Lock()
	s.srv = nil
	s.mu.Unlock()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires. Stopping a server
// that is not running returns ErrServerNotRunning.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotRunning
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
