package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/avarelay/internal/config"
	"github.com/vyrodovalexey/avarelay/internal/observability"
)

func TestRateLimiter_Global(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 2, false)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("c"), "burst is shared between clients")
	assert.Equal(t, 0, rl.Clients())
}

func TestRateLimiter_PerClient(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 1, true)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "each client has its own bucket")
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiter_CleanupOldClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(10, 10, true)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Minute)
	rl.Allow("fresh")

	rl.CleanupOldClients(30 * time.Second)
	assert.Equal(t, 1, rl.Clients())

	rl.mu.Lock()
	_, ok := rl.clients["fresh"]
	rl.mu.Unlock()
	assert.True(t, ok)
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(10, 10, true, WithClientTTL(time.Second))
	rl.StartAutoCleanup()
	rl.Stop()
	rl.Stop()
	rl.StartAutoCleanup()
}

func TestRateLimit_Middleware(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("test")
	logger, logs := newObservedLogger(zapcore.WarnLevel)
	rl := NewRateLimiter(1, 1, true,
		WithRateLimiterLogger(logger),
		WithRateLimiterMetrics(metrics),
	)
	handler := RateLimit(rl)(okHandler())

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/streaming.list", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("192.0.2.1:1000").Code)

	rec := do("192.0.2.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderRetryAfter))
	assert.JSONEq(t, ErrRateLimitExceeded, rec.Body.String())

	assert.Equal(t, http.StatusOK, do("192.0.2.2:1000").Code)

	require.Equal(t, 1, logs.FilterMessage("rate limit exceeded").Len())
	assert.Equal(t, "192.0.2.1", logs.FilterMessage("rate limit exceeded").All()[0].ContextMap()["client_ip"])

	expected := `
# HELP test_rate_limit_hits_total Total number of requests rejected by the rate limiter
# TYPE test_rate_limit_hits_total counter
test_rate_limit_hits_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected),
		"test_rate_limit_hits_total"))
}

func TestRateLimitFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("disabled passes through", func(t *testing.T) {
		t.Parallel()

		mw, rl := RateLimitFromConfig(&config.RateLimitConfig{Enabled: false})
		assert.Nil(t, rl)

		handler := mw(okHandler())
		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("enabled limits", func(t *testing.T) {
		t.Parallel()

		mw, rl := RateLimitFromConfig(&config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             1,
			PerClient:         true,
		})
		require.NotNil(t, rl)
		defer rl.Stop()

		handler := mw(okHandler())
		codes := make([]int, 0, 2)
		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			codes = append(codes, rec.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	})
}
