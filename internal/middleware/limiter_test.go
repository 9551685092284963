package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterSlidingWindow(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	// Another key is unaffected.
	assert.True(t, l.Allow("5.6.7.8"))

	// The window slides: after 61s the early hits expire.
	now = base.Add(61 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestLimiterDeniedNotCounted(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("k"))
	}

	// Only the two admitted hits occupy the window.
	now = base.Add(61 * time.Second)
	assert.True(t, l.Allow("k"))
}

func TestLimiterCleanupDropsIdleKeys(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.size())

	now = base.Add(2 * time.Minute)
	l.cleanup()
	assert.Zero(t, l.size())
}

func TestRateLimitMiddleware(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	handler := RateLimit(l, ClientIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.RemoteAddr = "1.2.3.4:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight short-circuits.
	pre := httptest.NewRequest(http.MethodOptions, "/", nil)
	pre.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, pre)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
