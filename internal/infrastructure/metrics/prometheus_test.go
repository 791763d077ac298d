package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCounters(t *testing.T) {
	m := NewPrometheus()

	m.ObserveRefresh("slack", "success", 120*time.Millisecond)
	m.ObserveRefresh("slack", "failure", time.Second)
	m.ObserveRefresh("slack", "success", 80*time.Millisecond)
	m.RefreshJoined("slack")
	m.ObserveProxy("github", http.MethodGet, 200, 10*time.Millisecond)
	m.ObserveProxy("github", http.MethodGet, 0, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues("slack", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("slack", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshJoins.WithLabelValues("slack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proxyRequests.WithLabelValues("github", "GET", "0")))
}

func TestPrometheusHandler(t *testing.T) {
	m := NewPrometheus()
	m.RefreshJoined("github")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `connections_refresh_joined_total{provider="github"} 1`)
}
