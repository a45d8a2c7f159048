// Package api serves the run ingestion, status and cancellation surface over
// HTTP, with Server-Sent Events for run and step status changes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cgradwohl/backend-services-2-sub001/internal/engine"
	"github.com/cgradwohl/backend-services-2-sub001/internal/streaming"
	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// RunService is the engine surface the handlers call. Satisfied by
// engine.Service.
type RunService interface {
	Invoke(ctx context.Context, req *schema.TriggerRequest) (*schema.Run, error)
	InvokeTemplate(ctx context.Context, inv schema.TemplateInvocation) (string, error)
	Lookup(ctx context.Context, runID string) (*engine.RunView, error)
	Cancel(ctx context.Context, tenantID, token string) (int, error)
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Service RunService
	Hub     streaming.Hub
	Logger  *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/runs", s.handleInvoke)
	mux.HandleFunc("GET /api/runs/{id}", s.handleLookup)
	mux.HandleFunc("POST /api/templates/{name}/runs", s.handleInvokeTemplate)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down. Request
// contexts derive from ctx so open SSE streams end with it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http api listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
