package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vk/mellongo/internal/registry"
)

// Server bundles the HTTP API and the socket.io hub behind one listener.
type Server struct {
	hub        *Hub
	api        *API
	cors       *CORS
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the API and hub onto one handler. A nil cors disables
// cross-origin headers.
func NewServer(addr string, hub *Hub, sched Scheduler, reg *registry.Registry, cors *CORS, logger *slog.Logger) *Server {
	s := &Server{
		hub:    hub,
		api:    NewAPI(sched, reg, logger),
		cors:   cors,
		logger: logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.api.Routes(mux)
	mux.Handle("/socket.io/", s.hub.Handler())
	return s.cors.wrap(mux)
}

// Start listens on the configured address and serves in a goroutine. The
// returned address is the one actually bound.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	addr := ln.Addr().String()
	go func() {
		s.logger.Info("🚀 Server starting", "address", "http://"+addr)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed unexpectedly", "error", err)
		}
	}()
	return addr, nil
}

// Shutdown closes the socket.io server and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("🏁 Shutting down server...")
	s.hub.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed", "error", err)
		return err
	}
	s.logger.Debug("Server shut down gracefully.")
	return nil
}
