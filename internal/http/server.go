// README: API gateway; owns the HTTP server lifecycle and the module services behind the routes.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ridesync/internal/infra"
	"ridesync/internal/modules/broadcast"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/location"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/registry"
	"ridesync/internal/modules/session"
	"ridesync/internal/modules/taxi"
)

const shutdownTimeout = 10 * time.Second

type ServerDeps struct {
	Registry       *registry.Service
	Trips          *taxi.Service
	Sessions       *session.Pool
	Users          *identity.Store
	Location       *location.Service
	Pricing        *pricing.Service
	Events         *broadcast.Log
	Hub            *broadcast.Hub
	Verifier       infra.TokenVerifier
	Log            *slog.Logger
	NearbyRadiusKm float64
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s.deps)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.deps.Log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
