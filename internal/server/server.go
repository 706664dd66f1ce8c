// Package server exposes sessions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ctxpkg "github.com/stupiduntilnot/windowchat/internal/context"
	modelpkg "github.com/stupiduntilnot/windowchat/internal/model"
	"github.com/stupiduntilnot/windowchat/internal/session"
)

const maxBodyBytes = 1 << 20

type Server struct {
	l        *zap.Logger
	mux      *chi.Mux
	registry *session.Registry
	gatherer prometheus.Gatherer
}

// New builds the router. gatherer may be nil, in which case /metrics is not
// served.
func New(registry *session.Registry, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	rt := &Server{
		l:        logger,
		mux:      r,
		registry: registry,
		gatherer: gatherer,
	}
	rt.mux.Use(rt.logRequests)
	rt.setupHandlers()
	return rt
}

func (rt *Server) setupHandlers() {
	if rt.gatherer != nil {
		rt.mux.Get("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}
	rt.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": rt.registry.Len()})
	})
	rt.mux.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", rt.listSessions)
		r.Post("/", rt.startSession)
		r.Get("/{id}", rt.getSession)
		r.Delete("/{id}", rt.endSession)
		r.Post("/{id}/messages", rt.sendMessage)
	})
}

// Handler returns the router, mainly for tests.
func (rt *Server) Handler() http.Handler { return rt.mux }

type startResponse struct {
	SessionID string `json:"session_id"`
	Greeting  string `json:"greeting"`
}

type messageRequest struct {
	Input string `json:"input"`
}

type messageResponse struct {
	Response string `json:"response"`
}

type exchangeJSON struct {
	Input    string `json:"input"`
	Response string `json:"response"`
}

type sessionResponse struct {
	SessionID string         `json:"session_id"`
	StartedAt time.Time      `json:"started_at"`
	Exchanges []exchangeJSON `json:"exchanges"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (rt *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": rt.registry.IDs()})
}

func (rt *Server) startSession(w http.ResponseWriter, r *http.Request) {
	s, err := rt.registry.Start()
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: s.ID(), Greeting: session.Greeting})
}

func (rt *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := rt.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	exchanges := s.Exchanges()
	out := sessionResponse{
		SessionID: s.ID(),
		StartedAt: s.StartedAt().UTC(),
		Exchanges: make([]exchangeJSON, 0, len(exchanges)),
	}
	for _, ex := range exchanges {
		out.Exchanges = append(out.Exchanges, exchangeJSON{Input: ex.Input(), Response: ex.Response()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.registry.End(chi.URLParam(r, "id")); err != nil {
		rt.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendMessage runs one turn. The turn is bound to the request context, so a
// client that disconnects abandons it and nothing is recorded.
func (rt *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	s, err := rt.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	response, err := s.Send(r.Context(), req.Input)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Response: response})
}

func (rt *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		rt.l.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: session.UserMessage(err)})
}

func statusFor(err error) int {
	var tooLarge *ctxpkg.PromptTooLargeError
	var cErr *modelpkg.CompletionError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrAbandoned):
		return http.StatusGatewayTimeout
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &cErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rt *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		rt.l.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (rt *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: rt.mux, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		rt.l.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-ctx.Done():
		rt.l.Info("gracefully shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to gracefully shutdown HTTP server: %w", err)
		}
		return g.Wait()
	case <-gctx.Done():
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	}
}
