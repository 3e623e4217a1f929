package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
)

// retryLLM re-sends failed requests according to a RetryPolicy.
type retryLLM struct {
	next   CoreLLM
	policy RetryPolicy
}

// RetryMiddleware creates middleware that retries transient failures with
// exponential backoff. Fatal errors are returned on first sight.
func RetryMiddleware(policy RetryPolicy) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:   next,
			policy: policy,
		}
	}
}

// DoRequest runs the request until it succeeds, fails with a non-retryable
// error, runs out of attempts, or would exceed the policy's wall-clock
// budget.
func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	var lastErr error
	attempt := 0

	for ; ; attempt++ {
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		lastErr = err

		if ctx.Err() != nil || !r.policy.ShouldRetry(err, attempt) {
			break
		}

		delay := r.policy.Delay(attempt)
		if r.policy.MaxElapsed > 0 && time.Since(start)+delay > r.policy.MaxElapsed {
			break
		}

		clog.FromContext(ctx).With("model", r.next.GetModel()).
			With("attempt", attempt+1).
			With("max_attempts", r.policy.attempts()).
			With("backoff", delay).
			With("error", err.Error()).
			Warn("Judge request failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, 0, fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if attempt == 0 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
