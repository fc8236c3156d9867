package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the IP-based HTTP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       // Requests allowed per second per IP
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often to drop idle limiters
}

// DefaultRateLimitConfig returns production-safe defaults. Canvas clients
// poll /api/status and fetch static assets on load, so the burst is generous.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             60,
	CleanupInterval:   5 * time.Minute,
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

// IPRateLimiter throttles HTTP requests per client IP. It guards the HTTP
// surface only; WebSocket gameplay frames are not rate limited.
type IPRateLimiter struct {
	limiters sync.Map // map[string]*ipLimiterEntry
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once

	rejectedCount atomic.Uint64
	allowedCount  atomic.Uint64
}

// NewIPRateLimiter creates a limiter and starts its cleanup goroutine.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		config:   cfg,
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := rl.limiters.Load(ip); ok {
		e := v.(*ipLimiterEntry)
		e.lastSeen.Store(now)
		return e.limiter
	}

	entry := &ipLimiterEntry{
		limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
	}
	entry.lastSeen.Store(now)

	actual, _ := rl.limiters.LoadOrStore(ip, entry)
	return actual.(*ipLimiterEntry).limiter
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *IPRateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupInterval * 2).UnixNano()
	rl.limiters.Range(func(key, value interface{}) bool {
		if value.(*ipLimiterEntry).lastSeen.Load() < cutoff {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Allow reports whether a request from ip may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.getLimiter(ip).Allow() {
		rl.allowedCount.Add(1)
		return true
	}
	rl.rejectedCount.Add(1)
	return false
}

// Middleware rejects over-limit requests with 429.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns limiter counters.
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowedCount.Load(),
		"rejected": rl.rejectedCount.Load(),
	}
}

// GetClientIP extracts the client IP, honouring X-Forwarded-For and
// X-Real-IP. Those headers can be spoofed unless a trusted proxy sets them.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ConnectionLimiter caps concurrent WebSocket connections per IP.
type ConnectionLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	maxPerIP int

	rejectedCount atomic.Uint64
}

// NewConnectionLimiter creates a per-IP connection cap.
func NewConnectionLimiter(maxPerIP int) *ConnectionLimiter {
	return &ConnectionLimiter{
		counts:   make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// Acquire reserves a slot for ip. Every successful Acquire must be paired
// with a Release.
func (cl *ConnectionLimiter) Acquire(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.maxPerIP > 0 && cl.counts[ip] >= cl.maxPerIP {
		cl.rejectedCount.Add(1)
		return false
	}
	cl.counts[ip]++
	return true
}

// Release frees a slot. Entries that reach zero are dropped.
func (cl *ConnectionLimiter) Release(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if n := cl.counts[ip]; n <= 1 {
		delete(cl.counts, ip)
	} else {
		cl.counts[ip] = n - 1
	}
}

// Count returns the open connections for ip.
func (cl *ConnectionLimiter) Count(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.counts[ip]
}

// GetStats returns limiter counters.
func (cl *ConnectionLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"rejected": cl.rejectedCount.Load(),
	}
}

// OriginPolicy decides which browser origins may open a WebSocket.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from exact origins such as
// "https://pixels.example.com".
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		p.allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return p
}

// Check accepts requests without an Origin header (non-browser clients),
// localhost origins, same-host origins and configured origins.
func (p *OriginPolicy) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[origin]; ok {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	return strings.EqualFold(u.Host, r.Host)
}

// CORSOrigins returns the patterns handed to the CORS middleware.
func (p *OriginPolicy) CORSOrigins() []string {
	out := []string{"http://localhost:*", "http://127.0.0.1:*"}
	for o := range p.allowed {
		out = append(out, o)
	}
	return out
}
