package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "connections"

// Prometheus records refresh and proxy measurements on its own registry
type Prometheus struct {
	registry        *prometheus.Registry
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshJoins    *prometheus.CounterVec
	proxyRequests   *prometheus.CounterVec
	proxyDuration   *prometheus.HistogramVec
}

// NewPrometheus creates the collectors and registers them, together with
// the Go runtime and process collectors
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token refresh attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of token refreshes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		refreshJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_joined_total",
			Help:      "Callers that joined an in-flight refresh instead of starting one.",
		}, []string{"provider"}),
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied provider requests by status code; status 0 is a transport failure.",
		}, []string{"provider", "method", "status"}),
		proxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_duration_seconds",
			Help:      "Duration of proxied provider requests including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshes,
		m.refreshDuration,
		m.refreshJoins,
		m.proxyRequests,
		m.proxyDuration,
	)
	return m
}

// ObserveRefresh records one refresh attempt
func (m *Prometheus) ObserveRefresh(provider, outcome string, d time.Duration) {
	m.refreshes.WithLabelValues(provider, outcome).Inc()
	m.refreshDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RefreshJoined records a caller that waited on another caller's refresh
func (m *Prometheus) RefreshJoined(provider string) {
	m.refreshJoins.WithLabelValues(provider).Inc()
}

// ObserveProxy records one proxied request
func (m *Prometheus) ObserveProxy(provider, method string, status int, d time.Duration) {
	m.proxyRequests.WithLabelValues(provider, method, strconv.Itoa(status)).Inc()
	m.proxyDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Registry exposes the underlying registry
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
