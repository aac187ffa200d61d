// Package server exposes a Session over HTTP and streams its events over a
// websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/llm"
	"github.com/PipeOpsHQ/sai/observe"
	observestore "github.com/PipeOpsHQ/sai/observe/store"
	"github.com/PipeOpsHQ/sai/session"
	"github.com/PipeOpsHQ/sai/state"
)

const (
	defaultAddr  = "127.0.0.1:7171"
	maxBodyBytes = 1 << 20
)

type Config struct {
	Addr    string
	Session *session.Session
	// Hub feeds /api/v1/stream. Without it the stream endpoint returns 404.
	Hub *observe.Hub
	// Journal backs /api/v1/events. Without it those endpoints return 404.
	Journal        observestore.Store
	Logger         zerolog.Logger
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

type Server struct {
	cfg     Config
	mux     *http.ServeMux
	handler http.Handler
	http    *http.Server
	once    sync.Once
}

func New(cfg Config) (*Server, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.registerRoutes()

	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	s.handler = otelhttp.NewHandler(s.mux, "sai.http", otelOpts...)
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) now() time.Time { return s.cfg.Now() }

func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.cfg.Logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		s.cfg.Logger.Info().Msg("shutdown signal received")
		if err := s.Close(); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var outErr error
	s.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		outErr = s.http.Shutdown(shutdownCtx)
		if outErr != nil {
			s.cfg.Logger.Warn().Err(outErr).Msg("http shutdown error")
		}
	})
	return outErr
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)

	s.mux.HandleFunc("GET /api/v1/chains", s.handleChainHistory)
	s.mux.HandleFunc("POST /api/v1/chains", s.handleRunChain)
	s.mux.HandleFunc("GET /api/v1/chains/templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /api/v1/chains/templates", s.handleSaveTemplate)
	s.mux.HandleFunc("DELETE /api/v1/chains/templates/{name}", s.handleDeleteTemplate)
	s.mux.HandleFunc("POST /api/v1/chains/templates/{name}/run", s.handleRunTemplate)

	s.mux.HandleFunc("GET /api/v1/memory", s.handleMemory)
	s.mux.HandleFunc("DELETE /api/v1/memory", s.handleClearMemory)
	s.mux.HandleFunc("PUT /api/v1/memory/settings", s.handleMemorySettings)

	s.mux.HandleFunc("GET /api/v1/analytics", s.handleAnalytics)

	s.mux.HandleFunc("GET /api/v1/tools", s.handleListTools)
	s.mux.HandleFunc("POST /api/v1/tools/{id}", s.handleExecuteTool)

	s.mux.HandleFunc("GET /api/v1/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/v1/settings", s.handlePutSettings)

	s.mux.HandleFunc("GET /api/v1/export/memory", s.handleExportMemory)
	s.mux.HandleFunc("GET /api/v1/export/data", s.handleExportData)

	s.mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/v1/events/summary", s.handleEventSummary)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		stepErr      *chain.ChainStepError
		transportErr *llm.TransportError
	)
	switch {
	case errors.Is(err, session.ErrEmptyPrompt),
		errors.Is(err, session.ErrInvalidSettings),
		errors.Is(err, chain.ErrNoInstructions),
		errors.Is(err, chain.ErrBlankStep),
		errors.Is(err, chain.ErrBlankInput):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &stepErr), errors.As(err, &transportErr), errors.Is(err, llm.ErrEmptyResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
