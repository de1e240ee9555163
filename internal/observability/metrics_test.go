package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.RecordRateLimitHit()

	expected := `
# HELP avarelay_rate_limit_hits_total Total number of requests rejected by the rate limiter
# TYPE avarelay_rate_limit_hits_total counter
avarelay_rate_limit_hits_total 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"avarelay_rate_limit_hits_total"))
}

func TestMetrics_Sessions(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("closed", 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("closed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sessionDuration))
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.RecordMessage(DirectionClientToUpstream)
	m.RecordMessage(DirectionUpstreamToClient)
	m.RecordMessage(DirectionUpstreamToClient)
	m.RecordConnectAttempt(false)
	m.RecordConnectAttempt(true)
	m.RecordConnectExhausted()
	m.RecordHTTPForward(http.MethodPost, http.StatusCreated, 10*time.Millisecond)
	m.RecordHTTPForwardError()
	m.SetCircuitBreakerState("http_upstream", 2)
	m.RecordConfigReload(true)
	m.RecordConfigReload(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesForwarded.WithLabelValues(DirectionClientToUpstream)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesForwarded.WithLabelValues(DirectionUpstreamToClient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpForwardsTotal.WithLabelValues("POST", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpForwardErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuitBreaker.WithLabelValues("http_upstream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configReloads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configReloads.WithLabelValues("failure")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.InitVecMetrics()
		m.SessionOpened()
		m.SessionClosed("error", time.Second)
		m.RecordMessage(DirectionClientToUpstream)
		m.RecordConnectAttempt(true)
		m.RecordConnectExhausted()
		m.RecordHTTPForward("GET", 200, time.Millisecond)
		m.RecordHTTPForwardError()
		m.RecordRateLimitHit()
		m.SetCircuitBreakerState("x", 0)
		m.RecordConfigReload(true)
		m.SetBuildInfo("v", "c", "t")
	})
}

func TestMetrics_InitVecMetricsAndHandler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.InitVecMetrics()
	m.InitVecMetrics()
	m.SetBuildInfo("1.0.0", "abc", "now")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `test_websocket_sessions_total{outcome="shutdown"} 0`)
	assert.Contains(t, text, `test_config_reloads_total{result="failure"} 0`)
	assert.Contains(t, text, `test_build_info{build_time="now",commit="abc",version="1.0.0"} 1`)
	assert.Contains(t, text, "test_start_time_seconds")
}
