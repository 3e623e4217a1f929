package middleware

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lauritowal/ai-ai-bias/infrastructure/llm"
)

// Budget defines judge consumption limits for one run.
// It caps tokens and API calls to prevent runaway costs.
type Budget struct {
	// MaxTokens limits the total number of tokens that can be consumed.
	// Zero means unlimited token usage.
	MaxTokens int64

	// MaxCalls limits the total number of API calls that can be made.
	// Zero means unlimited API calls.
	MaxCalls int64
}

// Unlimited reports whether b sets no limit at all.
func (b Budget) Unlimited() bool { return b.MaxTokens <= 0 && b.MaxCalls <= 0 }

// Usage is the judge consumption recorded so far.
type Usage struct {
	Tokens int64
	Calls  int64
}

// BudgetExceededError reports which limit stopped a request. It matches
// llm.ErrCallBudgetExceeded so the run aborts instead of retrying.
type BudgetExceededError struct {
	LimitType string
	Limit     int64
	Used      int64
	Engine    string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("judge budget exceeded for %s: %s used %d of %d", e.Engine, e.LimitType, e.Used, e.Limit)
}

// Unwrap returns llm.ErrCallBudgetExceeded.
func (e *BudgetExceededError) Unwrap() error { return llm.ErrCallBudgetExceeded }

// BudgetObserver provides observability hooks for budget operations.
// Implementations can add tracing, metrics, and logging without
// coupling observability concerns to core budget logic.
type BudgetObserver interface {
	// PreCheck is called before a request is let through. The returned
	// context is handed to PostCheck.
	PreCheck(ctx context.Context, engine string, usage Usage, budget Budget) context.Context

	// PostCheck is called after the request with updated usage and timing.
	PostCheck(ctx context.Context, engine string, usage Usage, budget Budget, elapsed time.Duration, err error)
}

// BudgetManager enforces token and API call limits across every judge
// engine of a run. Counters are atomic so concurrent workers share one
// budget.
type BudgetManager struct {
	budget   Budget
	observer BudgetObserver

	tokens atomic.Int64
	calls  atomic.Int64
}

// NewBudgetManager creates a BudgetManager with the given limits and an
// optional observer.
func NewBudgetManager(budget Budget, observer BudgetObserver) *BudgetManager {
	return &BudgetManager{budget: budget, observer: observer}
}

// Validate checks that the limits are not negative.
func (bm *BudgetManager) Validate() error {
	if bm.budget.MaxTokens < 0 {
		return fmt.Errorf("budget manager: max_tokens cannot be negative, got %d", bm.budget.MaxTokens)
	}
	if bm.budget.MaxCalls < 0 {
		return fmt.Errorf("budget manager: max_calls cannot be negative, got %d", bm.budget.MaxCalls)
	}
	return nil
}

// Usage returns the consumption so far.
func (bm *BudgetManager) Usage() Usage {
	return Usage{Tokens: bm.tokens.Load(), Calls: bm.calls.Load()}
}

// Middleware returns an llm.Middleware that charges every request for
// engine against the shared budget. Place it inside the retry middleware
// so each attempt is charged.
func (bm *BudgetManager) Middleware(engine string) llm.Middleware {
	return func(next llm.CoreLLM) llm.CoreLLM {
		return &budgetLLM{next: next, engine: engine, manager: bm}
	}
}

// reserve charges one call or reports the limit that stops it.
func (bm *BudgetManager) reserve(engine string) error {
	if bm.budget.MaxTokens > 0 {
		if used := bm.tokens.Load(); used >= bm.budget.MaxTokens {
			return &BudgetExceededError{LimitType: "tokens", Limit: bm.budget.MaxTokens, Used: used, Engine: engine}
		}
	}

	calls := bm.calls.Add(1)
	if bm.budget.MaxCalls > 0 && calls > bm.budget.MaxCalls {
		bm.calls.Add(-1)
		return &BudgetExceededError{LimitType: "calls", Limit: bm.budget.MaxCalls, Used: calls - 1, Engine: engine}
	}
	return nil
}

type budgetLLM struct {
	next    llm.CoreLLM
	engine  string
	manager *BudgetManager
}

func (b *budgetLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	bm := b.manager
	if err := bm.reserve(b.engine); err != nil {
		if bm.observer != nil {
			obsCtx := bm.observer.PreCheck(ctx, b.engine, bm.Usage(), bm.budget)
			bm.observer.PostCheck(obsCtx, b.engine, bm.Usage(), bm.budget, 0, err)
		}
		return "", 0, 0, err
	}

	obsCtx := ctx
	if bm.observer != nil {
		obsCtx = bm.observer.PreCheck(ctx, b.engine, bm.Usage(), bm.budget)
	}

	start := time.Now()
	response, tokensIn, tokensOut, err := b.next.DoRequest(ctx, prompt, opts)
	bm.tokens.Add(int64(tokensIn + tokensOut))

	if bm.observer != nil {
		bm.observer.PostCheck(obsCtx, b.engine, bm.Usage(), bm.budget, time.Since(start), err)
	}
	return response, tokensIn, tokensOut, err
}

func (b *budgetLLM) GetModel() string { return b.next.GetModel() }

func (b *budgetLLM) SetModel(model string) { b.next.SetModel(model) }
