// Package metrics provides Prometheus instrumentation for Heron.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heron"

// Collector owns a private registry and every Heron metric.
type Collector struct {
	registry *prometheus.Registry

	scoredTotal      *prometheus.CounterVec
	riskScore        prometheus.Histogram
	ruleTriggers     *prometheus.CounterVec
	providerErrors   prometheus.Counter
	ruleToggles      *prometheus.CounterVec
	scoringDuration  prometheus.Histogram
	httpDuration     *prometheus.HistogramVec
	websocketClients prometheus.Gauge
}

// New creates a collector on a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		scoredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_scored_total",
			Help:      "Total scored transactions by action.",
		}, []string{"action"}),
		riskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of composite risk scores.",
			Buckets:   []float64{0, 20, 40, 60, 80, 100},
		}),
		ruleTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_triggers_total",
			Help:      "Total rule triggers by rule id.",
		}, []string{"rule_id"}),
		providerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_provider_errors_total",
			Help:      "Total feature provider failures.",
		}),
		ruleToggles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_toggles_total",
			Help:      "Total registry toggles by target kind (rule or group), id and state.",
		}, []string{"target", "id", "enabled"}),
		scoringDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_seconds",
			Help:      "Time to build features, evaluate rules and decide.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_stream_clients",
			Help:      "Connected alert stream clients.",
		}),
	}
}

// ObserveScore records one scored transaction.
func (c *Collector) ObserveScore(action string, score int, ruleIDs []string, took time.Duration) {
	c.scoredTotal.WithLabelValues(action).Inc()
	c.riskScore.Observe(float64(score))
	for _, id := range ruleIDs {
		c.ruleTriggers.WithLabelValues(id).Inc()
	}
	c.scoringDuration.Observe(took.Seconds())
}

// ProviderError counts a feature provider failure.
func (c *Collector) ProviderError() {
	c.providerErrors.Inc()
}

// RuleToggled counts a registry change. target is "rule" or "group".
func (c *Collector) RuleToggled(target, id string, enabled bool) {
	c.ruleToggles.WithLabelValues(target, id, strconv.FormatBool(enabled)).Inc()
}

// ObserveHTTP records one HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int, took time.Duration) {
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}

// StreamClients sets the number of connected alert stream clients.
func (c *Collector) StreamClients(n int) {
	c.websocketClients.Set(float64(n))
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
