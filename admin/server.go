// Package admin is the HTTP management surface: the enforcement settings
// report and writes, ad-hoc check and validate calls, recent violations
// from the audit spool, and a counters snapshot, behind a shared-secret
// middleware.
package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server runs the admin API on its own listener.
type Server struct {
	bind     string
	server   *http.Server
	listener net.Listener
}

// NewServer builds the admin server for bind.
func NewServer(bind string, handlers *AdminHandlers) *Server {
	mux := http.NewServeMux()
	RegisterRoutes(mux, handlers)

	return &Server{
		bind:   bind,
		server: &http.Server{Handler: mux},
	}
}

// Start binds the listener and serves in the background. Bind failures
// surface here, not in the serve goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.listener = listener

	log.Info().Str("address", s.bind).Msg("Admin HTTP server started")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin HTTP server failed")
		}
	}()

	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Admin HTTP server shutdown failed")
	}
}
