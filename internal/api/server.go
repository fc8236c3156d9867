package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pixel-battle/internal/config"
)

// ServerConfig wires a Server.
type ServerConfig struct {
	Canvas     Canvas
	Hub        *WebSocketHub
	Server     config.ServerConfig
	StatusTopN int

	// RateLimitConfig overrides DefaultRateLimitConfig when set.
	RateLimitConfig *RateLimitConfig
	DisableLogging  bool
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub.
type Server struct {
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
}

// NewServer creates a server. No listener is opened until Start.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg ServerConfig) *Server {
	rateLimitCfg := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		rateLimitCfg = *cfg.RateLimitConfig
	}

	s := &Server{
		wsHub:       cfg.Hub,
		rateLimiter: NewIPRateLimiter(rateLimitCfg),
	}

	s.router = NewRouter(RouterConfig{
		Canvas:         cfg.Canvas,
		RateLimiter:    s.rateLimiter,
		CORSOrigins:    NewOriginPolicy(cfg.Server.AllowedOrigins).CORSOrigins(),
		StaticFilesDir: cfg.Server.StaticDir,
		AdminReset:     cfg.Server.AdminReset,
		StatusTopN:     cfg.StatusTopN,
		DisableLogging: cfg.DisableLogging,
	})

	s.setupWebSocketRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupWebSocketRoutes adds WebSocket-specific routes to the router.
// These routes need access to the wsHub instance, so they can't be
// part of the generic NewRouter factory.
func (s *Server) setupWebSocketRoutes() {
	// WebSocket endpoint (compatible with Socket.IO path)
	s.router.Get("/socket.io/", s.handleSocketIO)
	s.router.Get("/ws", s.handleWS)
}

// Start listens and blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) Start() error {
	log.Printf("🌐 Canvas server starting on %s", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests, closes every WebSocket and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.rateLimiter.Stop()

	err := s.httpServer.Shutdown(ctx)
	s.wsHub.CloseAll()
	if werr := s.wsHub.Wait(ctx); err == nil {
		err = werr
	}
	return err
}

// WebSocket handlers - these need access to wsHub

func (s *Server) handleSocketIO(w http.ResponseWriter, r *http.Request) {
	// Check if this is a WebSocket upgrade request
	if r.Header.Get("Upgrade") == "websocket" {
		s.wsHub.HandleWebSocket(w, r)
		return
	}

	// For polling fallback, return 404 (we only support WebSocket)
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"use websocket"}`))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}
