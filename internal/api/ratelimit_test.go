package api

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	policy := NewOriginPolicy([]string{"https://pixels.example.com/"})

	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no origin", "canvas.local", "", true},
		{"configured", "canvas.local", "https://pixels.example.com", true},
		{"localhost any port", "canvas.local", "http://localhost:5173", true},
		{"loopback", "canvas.local", "http://127.0.0.1:8080", true},
		{"same host", "canvas.local:3000", "http://canvas.local:3000", true},
		{"foreign", "canvas.local", "https://evil.example", false},
		{"garbage", "canvas.local", "::not a url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.Check(r))
		})
	}

	assert.Contains(t, policy.CORSOrigins(), "https://pixels.example.com")
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", GetClientIP(r))

	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", GetClientIP(r))
}

func TestConnectionLimiter(t *testing.T) {
	cl := NewConnectionLimiter(2)

	assert.True(t, cl.Acquire("1.1.1.1"))
	assert.True(t, cl.Acquire("1.1.1.1"))
	assert.False(t, cl.Acquire("1.1.1.1"))
	assert.True(t, cl.Acquire("2.2.2.2"), "limits are per IP")

	cl.Release("1.1.1.1")
	assert.Equal(t, 1, cl.Count("1.1.1.1"))
	assert.True(t, cl.Acquire("1.1.1.1"))

	cl.Release("2.2.2.2")
	cl.Release("2.2.2.2")
	assert.Zero(t, cl.Count("2.2.2.2"), "extra releases do not go negative")
	assert.Equal(t, uint64(1), cl.GetStats()["rejected"])
}

func TestConnectionLimiterConcurrent(t *testing.T) {
	cl := NewConnectionLimiter(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cl.Acquire("9.9.9.9") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, 10, cl.Count("9.9.9.9"))
}

func TestIPRateLimiterPerIP(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
		CleanupInterval:   time.Hour,
	})
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	stats := rl.GetStats()
	assert.Equal(t, uint64(2), stats["allowed"])
	assert.Equal(t, uint64(1), stats["rejected"])

	rl.Stop()
	rl.Stop()
}
