package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

var _ BudgetObserver = (*OTelBudgetObserver)(nil)

// OTelBudgetObserver implements observability for budget operations using
// OpenTelemetry tracing. It opens a span per charged request, records
// threshold events and exports the remaining budget to metrics.
type OTelBudgetObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelBudgetObserver creates a new OpenTelemetry budget observer.
// metrics may be nil.
func NewOTelBudgetObserver(metrics ports.MetricsCollector) *OTelBudgetObserver {
	return &OTelBudgetObserver{
		metrics: metrics,
		tracer:  otel.Tracer("ai-ai-bias/budget"),
	}
}

// PreCheck implements the BudgetObserver interface. It starts a span and
// records the budget state and threshold warnings.
func (o *OTelBudgetObserver) PreCheck(ctx context.Context, engine string, usage Usage, budget Budget) context.Context {
	ctx, span := o.tracer.Start(ctx, "judge.budget")
	span.SetAttributes(attribute.String("llm.engine", engine))
	addBudgetAttributes(span, usage, budget)
	checkBudgetThresholds(span, usage, budget)
	return ctx
}

// PostCheck implements the BudgetObserver interface. It finalizes the span,
// records metrics and flags exceeded limits.
func (o *OTelBudgetObserver) PostCheck(
	ctx context.Context,
	engine string,
	usage Usage,
	budget Budget,
	elapsed time.Duration,
	err error,
) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	addBudgetAttributes(span, usage, budget)
	span.SetAttributes(attribute.Int64("budget.elapsed_ms", elapsed.Milliseconds()))

	var budgetErr *BudgetExceededError
	switch {
	case errors.As(err, &budgetErr):
		span.AddEvent("budget.exceeded", trace.WithAttributes(
			attribute.String("limit_type", budgetErr.LimitType),
			attribute.Int64("limit_value", budgetErr.Limit),
			attribute.Int64("used_value", budgetErr.Used),
		))
		span.SetStatus(codes.Error, "Budget limit exceeded")
		if o.metrics != nil {
			o.metrics.RecordCounter(ports.MetricBudgetExceeded, 1, map[string]string{
				"limit_type": budgetErr.LimitType,
			})
		}
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}

	o.updateMetrics(usage, budget)
}

// addBudgetAttributes sets span attributes for usage and remaining budget.
func addBudgetAttributes(span trace.Span, usage Usage, budget Budget) {
	span.SetAttributes(
		attribute.Int64("budget.tokens_used", usage.Tokens),
		attribute.Int64("budget.calls_made", usage.Calls),
	)
	if budget.MaxTokens > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_tokens", budget.MaxTokens),
			attribute.Int64("budget.remaining_tokens", budget.MaxTokens-usage.Tokens),
		)
	}
	if budget.MaxCalls > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_calls", budget.MaxCalls),
			attribute.Int64("budget.remaining_calls", budget.MaxCalls-usage.Calls),
		)
	}
}

const (
	budgetWarningThreshold  = 0.8
	budgetCriticalThreshold = 0.9
)

// checkBudgetThresholds adds warning and critical events as a limit nears.
func checkBudgetThresholds(span trace.Span, usage Usage, budget Budget) {
	check := func(resource string, used, limit int64) {
		if limit <= 0 {
			return
		}
		pct := float64(used) / float64(limit)
		var event string
		switch {
		case pct >= budgetCriticalThreshold:
			event = "budget.threshold.critical"
		case pct >= budgetWarningThreshold:
			event = "budget.threshold.warning"
		default:
			return
		}
		span.AddEvent(event, trace.WithAttributes(
			attribute.String("resource_type", resource),
			attribute.Float64("usage_percentage", pct*100),
		))
	}
	check("tokens", usage.Tokens, budget.MaxTokens)
	check("calls", usage.Calls, budget.MaxCalls)
}

// updateMetrics exports the remaining budget.
func (o *OTelBudgetObserver) updateMetrics(usage Usage, budget Budget) {
	if o.metrics == nil {
		return
	}
	if budget.MaxTokens > 0 {
		o.metrics.RecordGauge(ports.MetricBudgetRemaining, float64(budget.MaxTokens-usage.Tokens),
			map[string]string{"limit_type": "tokens"})
	}
	if budget.MaxCalls > 0 {
		o.metrics.RecordGauge(ports.MetricBudgetRemaining, float64(budget.MaxCalls-usage.Calls),
			map[string]string{"limit_type": "calls"})
	}
}
