// Package server is the HTTP frontend of the deploy service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/projecteru2/core/log"

	"github.com/sparklane/sparklane/deploy"
	"github.com/sparklane/sparklane/metrics"
	"github.com/sparklane/sparklane/types"
)

const shutdownTimeout = 30 * time.Second

// Deployer runs one deploy request.
type Deployer interface {
	Deploy(ctx context.Context, req *deploy.Request) (*types.Instance, error)
}

// Server routes HTTP requests to the deploy service.
type Server struct {
	deployer    Deployer
	metrics     *metrics.Metrics
	uploadLimit int64
}

// New creates a Server. uploadLimit caps the request body in bytes.
func New(d Deployer, m *metrics.Metrics, uploadLimit int64) *Server {
	return &Server{deployer: d, metrics: m, uploadLimit: uploadLimit}
}

// Routes returns the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/deploy", s.handleDeploy)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// In-flight deploys keep running: their pipelines ignore cancellation once
// a record is persisted.
func (s *Server) Run(ctx context.Context, addr string) error {
	logger := log.WithFunc("server.Run")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
