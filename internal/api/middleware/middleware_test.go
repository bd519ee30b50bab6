package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestIsLoopbackOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://127.0.0.1:8765", true},
		{"https://localhost", true},
		{"http://[::1]:3000", true},
		{"http://LOCALHOST:1", true},
		{"https://example.com", false},
		{"http://localhost.evil.com", false},
		{"tauri://localhost", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLoopbackOrigin(tt.origin))
		})
	}
}

func TestCORSAllowsConfiguredAndLoopbackOrigins(t *testing.T) {
	r := newEngine(CORS(DefaultCORSConfig()))

	for _, origin := range []string{"tauri://localhost", "http://localhost:5173"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, origin)
		assert.Equal(t, origin, w.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestCORSRejectsForeignOrigin(t *testing.T) {
	r := newEngine(CORS(DefaultCORSConfig()))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	r := newEngine(CORS(DefaultCORSConfig()))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestRateLimitPerClient(t *testing.T) {
	r := newEngine(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)

	w := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	// another client has its own bucket
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)
}

func TestGlobalRateLimit(t *testing.T) {
	r := newEngine(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	for i, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if i == 0 {
			assert.Equal(t, http.StatusOK, w.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}
}

func TestLimiterSetDropsIdleClients(t *testing.T) {
	now := time.Unix(1000, 0)
	set := newLimiterSet(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute}, func() time.Time { return now })

	a := set.get("a")
	set.get("b")
	require.Equal(t, 2, set.size())

	now = now.Add(30 * time.Second)
	assert.Same(t, a, set.get("a"))

	now = now.Add(45 * time.Second)
	set.get("c")
	assert.Equal(t, 2, set.size(), "b idled out, a and c remain")

	now = now.Add(2 * time.Minute)
	set.get("a")
	assert.Equal(t, 1, set.size())
	assert.NotSame(t, a, set.get("a"), "a was swept and rebuilt")
}
