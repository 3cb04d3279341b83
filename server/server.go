// Package server exposes the streaming orchestrator and the session store
// over HTTP: chat streams as text/event-stream or WebSocket, plus JSON
// session routes, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/runtime"
	"github.com/endlesschasey-ai/agent-template/store"
)

// shutdownTimeout bounds graceful shutdown of open connections.
const shutdownTimeout = 10 * time.Second

// RateLimit limits chat requests per client IP. A zero RPS disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Config configures a Server.
type Config struct {
	Store        store.Store
	Orchestrator *runtime.StreamOrchestrator
	Logger       *log.Logger
	Collector    *metrics.Collector
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string
	RateLimit   RateLimit
	Version     string
}

// Server routes HTTP requests to the store and the orchestrator.
type Server struct {
	cfg      Config
	logger   *log.Logger
	limiter  *ipLimiter
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("server requires a store")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("server requires a stream orchestrator")
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("server"),
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(cfg.CORSOrigins, origin)
		},
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.limit(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /api/chat", s.limit(http.HandlerFunc(s.handleChatQuery)))
	mux.Handle("GET /api/chat/ws", s.limit(http.HandlerFunc(s.handleChatWS)))
	mux.HandleFunc("POST /api/session/create", s.handleCreateSession)
	mux.HandleFunc("GET /api/session/list", s.handleListSessions)
	mux.HandleFunc("GET /api/session/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/session/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	s.handler = s.logRequests(corsMiddleware(cfg.CORSOrigins, mux))
	return s, nil
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully and
// waits for in-flight completion publishes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: streams are long-lived.
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server listening", map[string]any{"addr": ln.Addr().String()})

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		s.logger.Info("server shutting down", nil)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Warn("graceful shutdown incomplete", map[string]any{"error": err.Error()})
			_ = srv.Close()
		}
		serveErr = <-errCh
	}
	s.cfg.Orchestrator.Wait()

	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "AI Agent Template API",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
