package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/config"
	"github.com/fleetaudit/fleetaudit/pkg/server/api"
)

// Server runs the HTTP API with graceful shutdown.
type Server struct {
	cfg  config.ServerConfig
	deps *api.Deps
	http *http.Server
}

// NewServer builds a Server from config and handler dependencies.
func NewServer(cfg config.ServerConfig, deps *api.Deps) *Server {
	addr := net.JoinHostPort(cfg.Addr, strconv.Itoa(cfg.Port))
	return &Server{
		cfg:  cfg,
		deps: deps,
		http: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(cfg, deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Run serves until the context is canceled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}

	if s.deps.Ready != nil {
		s.deps.Ready.Store(true)
	}
	log.Info().
		Str("component", "httpx").
		Str("addr", ln.Addr().String()).
		Msg("Server listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.http.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.deps.Ready != nil {
		s.deps.Ready.Store(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		log.Warn().
			Str("component", "httpx").
			Err(err).
			Msg("Graceful shutdown failed, closing")
		return s.http.Close()
	}
	log.Info().Str("component", "httpx").Msg("Server stopped")
	return nil
}
