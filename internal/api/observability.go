package api

import (
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixel-battle/internal/config"
	"pixel-battle/internal/game"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	// Canvas metrics
	eventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_events_total",
		Help: "Inbound client events by type and outcome",
	}, []string{"action", "outcome"}) // action is a known protocol type, "unknown" or "malformed"

	pixelsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_pixels_placed_total",
		Help: "Pixels placed since start",
	})

	gridCells = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_grid_cells",
		Help: "Occupied cells on the grid",
	})

	participants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_participants",
		Help: "Joined participants",
	})

	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_evictions_total",
		Help: "Participants removed for inactivity",
	})

	// Persistence metrics
	persistDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvas_persist_duration_seconds",
		Help:    "Time spent writing the grid snapshot",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_persist_failures_total",
		Help: "Snapshot writes that failed",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages queued for sending",
	})

	wsSendsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_sends_dropped_total",
		Help: "Outbound frames dropped because a client's buffer was full",
	})
)

// Observer feeds session and maintenance results into Prometheus.
type Observer struct{}

func (Observer) EventHandled(action, outcome string) {
	eventsHandled.WithLabelValues(action, outcome).Inc()
}

func (Observer) PixelPlaced() {
	pixelsPlaced.Inc()
}

func (Observer) Evicted(n int) {
	evictions.Add(float64(n))
}

func (Observer) StateChanged(cells, players int) {
	gridCells.Set(float64(cells))
	participants.Set(float64(players))
}

func (Observer) Persisted(cells int, took time.Duration, err error) {
	persistDuration.Observe(took.Seconds())
	if err != nil {
		persistFailures.Inc()
		return
	}
	gridCells.Set(float64(cells))
}

// RegisterEventLogMetrics exposes journal counters. Call it once per process.
func RegisterEventLogMetrics(el *game.EventLog) {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events journaled",
	}, func() float64 { return float64(el.GetTotalCount()) })

	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Journal events dropped due to rate limiting or a full buffer",
	}, func() float64 { return float64(el.GetDroppedCount()) })
}

// NewDebugHandler returns the pprof, metrics and health endpoints.
func NewDebugHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// StartDebugServer starts the internal observability server and returns it
// so the caller can shut it down. It returns nil when disabled.
// The listener is forced onto loopback unless ALLOW_DEBUG_EXTERNAL=true.
func StartDebugServer(cfg config.ObservabilityConfig) *http.Server {
	if !cfg.DebugServer {
		log.Println("📊 Debug server disabled")
		return nil
	}

	addr := cfg.DebugAddr
	if !isLoopback(addr) && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		log.Println("⚠️ Debug server forced to localhost for security")
		addr = "127.0.0.1:6060"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewDebugHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("📊 Debug server starting on %s", addr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", addr)
		log.Printf("   - metrics: http://%s/metrics", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return srv
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

// RecordSendDropped counts a frame dropped for a slow client.
func RecordSendDropped() {
	wsSendsDropped.Inc()
}
