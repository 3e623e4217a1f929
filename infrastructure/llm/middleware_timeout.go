package llm

import (
	"context"
	"errors"
	"time"
)

// timeoutLLM bounds each attempt of a request.
type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that cancels a single attempt after
// timeout. Placed inside the retry middleware it turns a hung connection
// into a retryable ErrorTypeTimeout instead of a stalled worker.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{
			next:    next,
			timeout: timeout,
		}
	}
}

// DoRequest executes the request with a per-attempt deadline. Only a
// deadline set here is reported as a timeout; a canceled parent context
// passes through unchanged.
func (t *timeoutLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	response, tokensIn, tokensOut, err := t.next.DoRequest(attemptCtx, prompt, opts)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var pe *ProviderError
		if !errors.As(err, &pe) || pe.Type != ErrorTypeTimeout {
			err = NewProviderError("timeout", ErrorTypeTimeout, 0, "attempt exceeded "+t.timeout.String(), err)
		}
	}
	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *timeoutLLM) SetModel(m string) { t.next.SetModel(m) }
