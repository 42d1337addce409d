package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(0, 0)(okHandler)
	for range 50 {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/v1/jobs", nil).Code)
	}
}

func TestRateLimit_BlocksOverBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 3)
	defer rl.Stop()
	h := rl.Middleware(okHandler)

	for i := range 3 {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/v1/jobs", nil).Code, "request %d", i)
	}
	rr := serve(h, http.MethodPut, "/api/v1/settings", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, serve(h, http.MethodDelete, "/api/v1/jobs", map[string]string{"X-Forwarded-For": "10.9.9.9"}).Code)
}

func TestRateLimit_ReadsUnlimited(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()
	h := rl.Middleware(okHandler)

	for range 10 {
		assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/v1/jobs", nil).Code)
	}
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	rl.allow("1.2.3.4")
	rl.allow("5.6.7.8")

	rl.evict(rl.ips["1.2.3.4"].lastSeen.Add(1))
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.ips, "1.2.3.4")
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote, fwd, want string
	}{
		{"192.0.2.1:1234", "", "192.0.2.1"},
		{"192.0.2.1:1234", "203.0.113.5", "203.0.113.5"},
		{"192.0.2.1:1234", " 203.0.113.5 , 10.0.0.1", "203.0.113.5"},
		{"[::1]:80", "", "[::1]"},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if tc.fwd != "" {
			req.Header.Set("X-Forwarded-For", tc.fwd)
		}
		assert.Equal(t, tc.want, clientIP(req))
	}
}
