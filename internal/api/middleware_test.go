package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hackgods/clearance-scheduling/internal/identity"
)

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	s := newTestServer(t, func(rc *RouterConfig) {
		rc.RateLimitRPS = 0.001
		rc.RateLimitBurst = 1
	})
	tok := s.token(t, "u1", identity.RoleStudent)

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/windows", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.3"))
}

func TestRateLimitHonoursForwardedForBehindTrustedProxy(t *testing.T) {
	s := newTestServer(t, func(rc *RouterConfig) {
		rc.RateLimitRPS = 0.001
		rc.RateLimitBurst = 1
		rc.TrustProxy = true
	})
	tok := s.token(t, "u1", identity.RoleStudent)

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/windows", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
}

func TestIPRateLimiterIsBounded(t *testing.T) {
	now := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(rate.Limit(1), 1)
	l.maxClients = 2
	l.idle = time.Minute
	l.now = func() time.Time { return now }

	a := l.Limiter("10.0.0.1")
	now = now.Add(time.Second)
	l.Limiter("10.0.0.2")
	now = now.Add(time.Second)
	l.Limiter("10.0.0.3")

	require.Equal(t, 2, l.size())
	assert.NotSame(t, a, l.Limiter("10.0.0.1"), "least recently seen bucket is evicted first")

	now = now.Add(time.Hour)
	l.Limiter("10.0.0.4")
	assert.Equal(t, 1, l.size(), "idle buckets are swept")
}

func TestClientIPUsesRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5123"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.RemoteAddr = "198.51.100.8"
	assert.Equal(t, "198.51.100.8", clientIP(req))
}
