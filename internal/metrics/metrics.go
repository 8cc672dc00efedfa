package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the service reports. A nil *Metrics is
// valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	registry *prometheus.Registry

	HTTPDuration        *prometheus.HistogramVec
	ActiveSubscriptions prometheus.Gauge
	RetryAttempts       *prometheus.CounterVec
	AggregatorSettles   *prometheus.CounterVec
	FeedPublishes       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nwitter",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nwitter",
			Name:      "store_active_subscriptions",
			Help:      "Open store subscriptions.",
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nwitter",
			Name:      "retry_attempts_total",
			Help:      "Retries of transient failures by operation.",
		}, []string{"op"}),
		AggregatorSettles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nwitter",
			Name:      "notification_settles_total",
			Help:      "Notification aggregator settles by result.",
		}, []string{"has_unread"}),
		FeedPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nwitter",
			Name:      "feed_publishes_total",
			Help:      "Change events published on the feed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPDuration,
		m.ActiveSubscriptions,
		m.RetryAttempts,
		m.AggregatorSettles,
		m.FeedPublishes,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SubscriptionOpened() {
	if m != nil {
		m.ActiveSubscriptions.Inc()
	}
}

func (m *Metrics) SubscriptionClosed() {
	if m != nil {
		m.ActiveSubscriptions.Dec()
	}
}

func (m *Metrics) Retry(op string) {
	if m != nil {
		m.RetryAttempts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Settled(hasUnread bool) {
	if m == nil {
		return
	}
	v := "false"
	if hasUnread {
		v = "true"
	}
	m.AggregatorSettles.WithLabelValues(v).Inc()
}

func (m *Metrics) Published() {
	if m != nil {
		m.FeedPublishes.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, status).Observe(seconds)
	}
}
