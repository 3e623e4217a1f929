// Package middleware provides cross-cutting concerns for the comparison
// engine: Prometheus metrics, the judge call budget and its tracing hooks.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

const metricsNamespace = "aibias"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It exports judge traffic, cache effectiveness, comparison outcomes and
// budget consumption.
type PrometheusMetrics struct {
	llmLatency        *prometheus.HistogramVec
	llmRequests       *prometheus.CounterVec
	llmTokens         *prometheus.CounterVec
	comparisons       *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	comparisonLatency *prometheus.HistogramVec
	budgetRemaining   *prometheus.GaugeVec
	budgetExceeded    *prometheus.CounterVec
	batchItems        *prometheus.CounterVec

	// Fallbacks for metric names without a dedicated vector.
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collector and registers its vectors with
// reg. A nil reg uses the global Prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Judge traffic.
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of judge model requests.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"engine", "provider", "status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "llm_requests_total",
				Help:      "Judge model requests by outcome.",
			},
			[]string{"engine", "provider", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "llm_tokens_total",
				Help:      "Tokens consumed by judge model requests.",
			},
			[]string{"engine", "token_type"},
		),

		// Comparisons.
		comparisons: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "comparisons_total",
				Help:      "Finished comparisons by presented position of the winner.",
			},
			[]string{"engine", "prompt_key", "outcome"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "comparison_cache_lookups_total",
				Help:      "Comparison cache lookups by result.",
			},
			[]string{"engine", "prompt_key", "result"},
		),
		comparisonLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "comparison_duration_seconds",
				Help:      "Duration of one pairwise comparison.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"engine", "prompt_key", "source"},
		),

		// Budget and batches.
		budgetRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "judge_budget_remaining",
				Help:      "Judge budget left for the run.",
			},
			[]string{"limit_type"},
		),
		budgetExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "judge_budget_exceeded_total",
				Help:      "Judge requests refused because the budget ran out.",
			},
			[]string{"limit_type"},
		),
		batchItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_items_total",
				Help:      "Items handled by the batch comparator.",
			},
			[]string{"item_type", "status"},
		),

		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of other operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Other counted events.",
			},
			[]string{"metric"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "system_state",
				Help:      "Other state values.",
			},
			[]string{"metric"},
		),
	}
}

// label returns labels[key], or "unknown" when it is missing or empty.
func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	switch operation {
	case ports.MetricComparisonLatency:
		pm.comparisonLatency.WithLabelValues(
			label(labels, "engine"),
			label(labels, "prompt_key"),
			label(labels, "source"),
		).Observe(duration.Seconds())
	case ports.MetricLLMLatency:
		pm.RecordHistogram(operation, duration.Seconds(), labels)
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(
			label(labels, "engine"),
			label(labels, "provider"),
			label(labels, "status"),
		).Add(value)
	case ports.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "engine"), label(labels, "token_type")).Add(value)
	case ports.MetricComparisons:
		pm.comparisons.WithLabelValues(
			label(labels, "engine"),
			label(labels, "prompt_key"),
			label(labels, "outcome"),
		).Add(value)
	case ports.MetricCacheLookups:
		pm.cacheLookups.WithLabelValues(
			label(labels, "engine"),
			label(labels, "prompt_key"),
			label(labels, "result"),
		).Add(value)
	case ports.MetricBudgetExceeded:
		pm.budgetExceeded.WithLabelValues(label(labels, "limit_type")).Add(value)
	case ports.MetricBatchItems:
		pm.batchItems.WithLabelValues(label(labels, "item_type"), label(labels, "status")).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricBudgetRemaining:
		pm.budgetRemaining.WithLabelValues(label(labels, "limit_type")).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case ports.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(
			label(labels, "engine"),
			label(labels, "provider"),
			label(labels, "status"),
		).Observe(value)
	default:
		pm.operationLatency.WithLabelValues(metric).Observe(value)
	}
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
