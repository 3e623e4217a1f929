package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestTimeoutMiddleware_SlowAttemptBecomesRetryableTimeout(t *testing.T) {
	// Given a provider slower than the attempt timeout
	mock := NewMockCoreLLM()
	mock.ResponseDelay = time.Second
	wrapped := TimeoutMiddleware(20 * time.Millisecond)(mock)

	// When making a request
	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)

	// Then the failure is classified as a retryable timeout
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeTimeout, pe.Type)
	assert.True(t, IsRetryable(err))
}

func TestTimeoutMiddleware_ParentCancellationPassesThrough(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.ResponseDelay = time.Second
	wrapped := TimeoutMiddleware(time.Minute)(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := wrapped.DoRequest(ctx, "prompt", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestTimeoutMiddleware_FastRequestSucceeds(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := TimeoutMiddleware(time.Second)(mock)

	response, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)

	require.NoError(t, err)
	assert.Equal(t, "test response", response)
}

func TestRateLimitMiddleware_PacesRequests(t *testing.T) {
	// Given a limiter of 20 requests per second with no burst
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(20), 1)(mock)

	// When making three requests
	start := time.Now()
	for range 3 {
		_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
		require.NoError(t, err)
	}

	// Then at least two intervals elapsed
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRateLimitMiddleware_NonPositiveLimitDisablesPacing(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(0, 0)(mock)

	start := time.Now()
	for range 50 {
		_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
		require.NoError(t, err)
	}

	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimitMiddleware_CancelledWaitIsNotSent(t *testing.T) {
	// Given a limiter whose only token is spent
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Every(time.Hour), 1)(mock)
	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)

	// When the next request cannot wait for a token
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, _, err = wrapped.DoRequest(ctx, "prompt", nil)

	// Then it fails without reaching the provider
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, mock.GetCallCount())
}

// recordingCollector captures metrics in memory.
type recordingCollector struct {
	mu         sync.Mutex
	counters   map[string]float64
	labels     map[string][]map[string]string
	histograms map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		counters:   make(map[string]float64),
		labels:     make(map[string][]map[string]string),
		histograms: make(map[string]int),
	}
}

func (r *recordingCollector) RecordLatency(string, time.Duration, map[string]string) {}

func (r *recordingCollector) RecordCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
	r.labels[name] = append(r.labels[name], labels)
}

func (r *recordingCollector) RecordGauge(string, float64, map[string]string) {}

func (r *recordingCollector) RecordHistogram(name string, _ float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name]++
}

func TestMetricsMiddleware_RecordsSuccess(t *testing.T) {
	// Given a metrics middleware for a Groq engine
	collector := newRecordingCollector()
	mock := NewMockCoreLLM()
	wrapped := MetricsMiddleware("groq-llama3-70b-8192", collector)(mock)

	// When a request succeeds
	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)

	// Then latency, request status and token usage are recorded
	assert.Equal(t, 1, collector.histograms[MetricLLMLatency])
	assert.InDelta(t, 1.0, collector.counters[MetricLLMRequests], 0.001)
	assert.InDelta(t, 30.0, collector.counters[MetricLLMTokens], 0.001)
	require.Len(t, collector.labels[MetricLLMRequests], 1)
	assert.Equal(t, map[string]string{
		"engine":   "groq-llama3-70b-8192",
		"provider": "groq",
		"status":   "success",
	}, collector.labels[MetricLLMRequests][0])
}

func TestMetricsMiddleware_StatusFollowsErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"quota", NewProviderError("openai", ErrorTypeQuota, 429, "", nil), "quota"},
		{"server", NewProviderError("openai", ErrorTypeServerError, 500, "", nil), "server_error"},
		{"budget", ErrCallBudgetExceeded, "budget_exceeded"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"other", errors.New("x"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := newRecordingCollector()
			mock := NewMockCoreLLM()
			mock.Error = tt.err
			wrapped := MetricsMiddleware("gpt-4o", collector)(mock)

			_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)

			require.Error(t, err)
			require.Len(t, collector.labels[MetricLLMRequests], 1)
			assert.Equal(t, tt.want, collector.labels[MetricLLMRequests][0]["status"])
			assert.Zero(t, collector.counters[MetricLLMTokens], "no tokens on failure")
		})
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	wrapped := MetricsMiddleware("gpt-4o", nil)(NewMockCoreLLM())

	response, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)

	require.NoError(t, err)
	assert.Equal(t, "test response", response)
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	// Given a traced mock
	mock := NewMockCoreLLM()
	wrapped := TracingMiddleware("claude-3-5-sonnet")(mock)

	// When requests succeed and fail
	response, tokensIn, tokensOut, err := wrapped.DoRequest(context.Background(), "prompt", map[string]any{"temperature": 0.0})
	require.NoError(t, err)

	mock.Error = errors.New("service error")
	_, _, _, failErr := wrapped.DoRequest(context.Background(), "prompt", nil)

	// Then results and errors are unchanged
	assert.Equal(t, "test response", response)
	assert.Equal(t, 10, tokensIn)
	assert.Equal(t, 20, tokensOut)
	assert.EqualError(t, failErr, "service error")
	assert.Equal(t, 2, mock.GetCallCount())

	wrapped.SetModel("claude-3-opus")
	assert.Equal(t, "claude-3-opus", mock.GetModel())
}
