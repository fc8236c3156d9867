package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pixel-battle/internal/game"
	"pixel-battle/internal/session"
)

// Canvas is the read and admin surface of the session gateway used by the
// HTTP API. It enables testing the routes without a live hub.
type Canvas interface {
	// Status reports counts and the top n leaderboard entries
	Status(n int) session.Status
	// Pixels returns a copy of every placed cell
	Pixels() map[game.CellID]game.Cell
	// Leaderboard returns the top n of the last computed leaderboard
	Leaderboard(n int) []game.LeaderboardEntry
	// ResetGrid clears every cell and broadcasts the reset
	ResetGrid() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Canvas: gateway,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Canvas is the session gateway (required)
	Canvas Canvas

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, only localhost origins are allowed.
	CORSOrigins []string

	// StaticFilesDir is the directory holding the web client.
	// If empty, defaults to "./public".
	StaticFilesDir string

	// AdminReset enables POST /api/admin/reset.
	AdminReset bool

	// StatusTopN bounds the leaderboard in /api/status. Defaults to 10.
	StatusTopN int

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	canvas     Canvas
	adminReset bool
	statusTopN int
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the rate limiter's cleanup
// goroutine when no RateLimiter is supplied. No listeners are opened.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = NewOriginPolicy(nil).CORSOrigins()
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	h := &routerHandlers{
		canvas:     cfg.Canvas,
		adminReset: cfg.AdminReset,
		statusTopN: cfg.StatusTopN,
	}
	if h.statusTopN <= 0 {
		h.statusTopN = 10
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleGetStatus)
		r.Get("/pixels", h.handleGetPixels)
		r.Get("/leaderboard", h.handleGetLeaderboard)
		r.Post("/admin/reset", h.handleAdminReset)
	})

	staticDir := cfg.StaticFilesDir
	if staticDir == "" {
		staticDir = "./public"
	}
	r.Get("/*", spaHandler(staticDir))

	return r
}

// spaHandler serves files from dir and falls back to index.html for paths
// that do not name a file, so client-side routes load the app.
func spaHandler(dir string) http.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		clean := filepath.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean)))
		if clean == "/" || (err == nil && !info.IsDir()) {
			files.ServeHTTP(w, r)
			return
		}
		index := filepath.Join(dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
	}
}

// requestMetrics records latency per route pattern so label cardinality
// stays bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "other"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
