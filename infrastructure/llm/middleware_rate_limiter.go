package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// rateLimitedLLM paces requests with a token bucket shared by every user of
// the wrapped client.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that allows limit requests per
// second with bursts of up to burst. A non-positive limit disables pacing.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	if limit <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, max(burst, 1))

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:    next,
			limiter: limiter,
		}
	}
}

// DoRequest blocks until the limiter grants a token, then forwards the
// request. A canceled context while waiting is reported as canceled, not as
// a provider failure.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, NewProviderError("rate_limiter", ErrorTypeCanceled, 0, "waiting for rate limiter", fmt.Errorf("rate limit: %w", err))
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
