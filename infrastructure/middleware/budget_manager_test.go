package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lauritowal/ai-ai-bias/infrastructure/llm"
)

// mockBudgetObserver implements BudgetObserver for testing.
type mockBudgetObserver struct {
	mu             sync.Mutex
	preCheckCalls  []Usage
	postCheckCalls []postCheckCall
}

type postCheckCall struct {
	engine string
	usage  Usage
	err    error
}

func (m *mockBudgetObserver) PreCheck(ctx context.Context, _ string, usage Usage, _ Budget) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preCheckCalls = append(m.preCheckCalls, usage)
	return ctx
}

func (m *mockBudgetObserver) PostCheck(_ context.Context, engine string, usage Usage, _ Budget, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postCheckCalls = append(m.postCheckCalls, postCheckCall{engine: engine, usage: usage, err: err})
}

func budgetedClient(bm *BudgetManager, mock *llm.MockCoreLLM) *llm.Client {
	return llm.NewClientFromCore(mock, bm.Middleware("gpt-4o"))
}

func TestBudgetManager_CallLimit(t *testing.T) {
	// Given a budget of two calls
	bm := NewBudgetManager(Budget{MaxCalls: 2}, nil)
	mock := llm.NewMockCoreLLM()
	client := budgetedClient(bm, mock)
	ctx := context.Background()

	// When three requests are made
	_, err1 := client.Complete(ctx, "a", nil)
	_, err2 := client.Complete(ctx, "b", nil)
	_, err3 := client.Complete(ctx, "c", nil)

	// Then the third is refused before reaching the provider
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Error(t, err3)
	assert.Equal(t, 2, mock.GetCallCount())

	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err3, &budgetErr)
	assert.Equal(t, "calls", budgetErr.LimitType)
	assert.Equal(t, int64(2), budgetErr.Limit)
	assert.Equal(t, "gpt-4o", budgetErr.Engine)
	assert.True(t, errors.Is(err3, llm.ErrCallBudgetExceeded))
	assert.True(t, llm.IsFatal(err3), "budget exhaustion aborts the run")
	assert.False(t, llm.IsRetryable(err3))
	assert.Equal(t, Usage{Tokens: 60, Calls: 2}, bm.Usage())
}

func TestBudgetManager_TokenLimit(t *testing.T) {
	bm := NewBudgetManager(Budget{MaxTokens: 50}, nil)
	mock := llm.NewMockCoreLLM() // 10 in + 20 out per call
	client := budgetedClient(bm, mock)
	ctx := context.Background()

	_, err := client.Complete(ctx, "a", nil)
	require.NoError(t, err)
	_, err = client.Complete(ctx, "b", nil)
	require.NoError(t, err, "30 tokens used is still under the limit")

	_, err = client.Complete(ctx, "c", nil)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "tokens", budgetErr.LimitType)
	assert.Equal(t, int64(60), budgetErr.Used)
}

func TestBudgetManager_Unlimited(t *testing.T) {
	bm := NewBudgetManager(Budget{}, nil)
	assert.True(t, Budget{}.Unlimited())
	client := budgetedClient(bm, llm.NewMockCoreLLM())

	for range 10 {
		_, err := client.Complete(context.Background(), "x", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), bm.Usage().Calls)
}

func TestBudgetManager_ConcurrentCallsNeverOvershoot(t *testing.T) {
	// Given a shared budget and many concurrent workers
	bm := NewBudgetManager(Budget{MaxCalls: 25}, nil)
	mock := llm.NewMockCoreLLM()
	client := budgetedClient(bm, mock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	refused := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Complete(context.Background(), "x", nil); err != nil {
				mu.Lock()
				refused++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Then exactly the budget got through
	assert.Equal(t, 25, mock.GetCallCount())
	assert.Equal(t, 75, refused)
	assert.Equal(t, int64(25), bm.Usage().Calls)
}

func TestBudgetManager_ChargesEveryRetryAttempt(t *testing.T) {
	// Given a provider that fails twice with a retryable error
	bm := NewBudgetManager(Budget{MaxCalls: 10}, nil)
	mock := llm.NewMockCoreLLM()
	mock.Script = []llm.ScriptedReply{
		{Err: llm.NewProviderError("openai", llm.ErrorTypeServerError, 500, "boom", nil)},
		{Err: llm.NewProviderError("openai", llm.ErrorTypeServerError, 500, "boom", nil)},
		{Response: "ok"},
	}
	policy := llm.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	client := llm.NewClientFromCore(mock, llm.RetryMiddleware(policy), bm.Middleware("gpt-4o"))

	// When the call eventually succeeds
	reply, err := client.Complete(context.Background(), "x", nil)

	// Then each attempt was charged
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int64(3), bm.Usage().Calls)
}

func TestBudgetManager_Observer(t *testing.T) {
	obs := &mockBudgetObserver{}
	bm := NewBudgetManager(Budget{MaxCalls: 1}, obs)
	client := budgetedClient(bm, llm.NewMockCoreLLM())

	_, err := client.Complete(context.Background(), "a", nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "b", nil)
	require.Error(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.postCheckCalls, 2)
	assert.NoError(t, obs.postCheckCalls[0].err)
	assert.Equal(t, "gpt-4o", obs.postCheckCalls[0].engine)
	assert.Equal(t, Usage{Tokens: 30, Calls: 1}, obs.postCheckCalls[0].usage)
	assert.ErrorIs(t, obs.postCheckCalls[1].err, llm.ErrCallBudgetExceeded)
}

func TestBudgetManager_Validate(t *testing.T) {
	assert.NoError(t, NewBudgetManager(Budget{MaxCalls: 5}, nil).Validate())
	assert.Error(t, NewBudgetManager(Budget{MaxCalls: -1}, nil).Validate())
	assert.Error(t, NewBudgetManager(Budget{MaxTokens: -1}, nil).Validate())
}

func TestOTelBudgetObserver_RecordsMetrics(t *testing.T) {
	// Given an observer exporting to a recording collector
	rec := &recordingCollector{}
	bm := NewBudgetManager(Budget{MaxCalls: 1, MaxTokens: 1000}, NewOTelBudgetObserver(rec))
	client := budgetedClient(bm, llm.NewMockCoreLLM())

	// When one request passes and one is refused
	_, err := client.Complete(context.Background(), "a", nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), "b", nil)
	require.Error(t, err)

	// Then remaining budget and the refusal are exported
	assert.Equal(t, 0.0, rec.gauge("judge_budget_remaining", "calls"))
	assert.Equal(t, 970.0, rec.gauge("judge_budget_remaining", "tokens"))
	assert.Equal(t, 1.0, rec.counter("judge_budget_exceeded_total", "calls"))
}

// recordingCollector keeps the last gauge and the summed counters keyed by
// metric and limit_type.
type recordingCollector struct {
	mu       sync.Mutex
	gauges   map[string]float64
	counters map[string]float64
}

func (r *recordingCollector) RecordLatency(string, time.Duration, map[string]string) {}

func (r *recordingCollector) RecordHistogram(string, float64, map[string]string) {}

func (r *recordingCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]float64{}
	}
	r.counters[metric+"/"+labels["limit_type"]] += value
}

func (r *recordingCollector) RecordGauge(metric string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gauges == nil {
		r.gauges = map[string]float64{}
	}
	r.gauges[metric+"/"+labels["limit_type"]] = value
}

func (r *recordingCollector) gauge(metric, limitType string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[metric+"/"+limitType]
}

func (r *recordingCollector) counter(metric, limitType string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[metric+"/"+limitType]
}
