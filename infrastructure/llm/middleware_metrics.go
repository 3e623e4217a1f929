package llm

import (
	"context"
	"errors"
	"time"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// Metric names recorded by MetricsMiddleware.
const (
	MetricLLMLatency  = ports.MetricLLMLatency
	MetricLLMRequests = ports.MetricLLMRequests
	MetricLLMTokens   = ports.MetricLLMTokens
)

// metricsLLM records latency, request status and token usage per request.
type metricsLLM struct {
	next      CoreLLM
	engine    string
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that reports every request to
// collector, labelled with the engine identifier.
func MetricsMiddleware(engine string, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			engine:    engine,
			collector: collector,
		}
	}
}

// DoRequest executes the request and records its outcome.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)
	if m.collector == nil {
		return response, tokensIn, tokensOut, err
	}

	labels := map[string]string{
		"engine":   m.engine,
		"provider": ProviderFor(m.engine),
		"status":   requestStatus(err),
	}

	m.collector.RecordHistogram(MetricLLMLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricLLMRequests, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricLLMTokens, float64(tokensIn), map[string]string{
			"engine": m.engine, "token_type": "input",
		})
		m.collector.RecordCounter(MetricLLMTokens, float64(tokensOut), map[string]string{
			"engine": m.engine, "token_type": "output",
		})
	}

	return response, tokensIn, tokensOut, err
}

// requestStatus maps an error to a low-cardinality status label.
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrCallBudgetExceeded) {
		return "budget_exceeded"
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Type != ErrorTypeUnknown {
		return pe.Type.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
