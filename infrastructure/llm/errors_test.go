package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassifier_ClassifyHTTPError(t *testing.T) {
	classifier := &ErrorClassifier{Provider: "openai"}

	tests := []struct {
		status    int
		want      ErrorType
		retryable bool
		fatal     bool
	}{
		{401, ErrorTypeAuthentication, false, true},
		{403, ErrorTypeAuthentication, false, true},
		{429, ErrorTypeQuota, false, true},
		{529, ErrorTypeRateLimit, true, false},
		{400, ErrorTypeBadRequest, false, false},
		{404, ErrorTypeNotFound, false, false},
		{408, ErrorTypeTimeout, true, false},
		{500, ErrorTypeServerError, true, false},
		{503, ErrorTypeServerError, true, false},
		{599, ErrorTypeServerError, true, false},
		{418, ErrorTypeBadRequest, false, false},
		{0, ErrorTypeUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := classifier.ClassifyHTTPError(tt.status, "boom", errors.New("underlying"))

			assert.Equal(t, tt.want, err.Type)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err), "retryable")
			assert.Equal(t, tt.fatal, IsFatal(err), "fatal")
		})
	}
}

func TestErrorClassifier_ClassifyTransportError(t *testing.T) {
	classifier := &ErrorClassifier{Provider: "groq"}

	t.Run("deadline is a retryable timeout", func(t *testing.T) {
		err := classifier.ClassifyTransportError(fmt.Errorf("post: %w", context.DeadlineExceeded))
		require.NotNil(t, err)
		assert.Equal(t, ErrorTypeTimeout, err.Type)
		assert.True(t, IsRetryable(err))
	})

	t.Run("cancellation is neither retryable nor fatal", func(t *testing.T) {
		err := classifier.ClassifyTransportError(context.Canceled)
		require.NotNil(t, err)
		assert.Equal(t, ErrorTypeCanceled, err.Type)
		assert.False(t, IsRetryable(err))
		assert.False(t, IsFatal(err))
	})

	t.Run("connection refused is a network error", func(t *testing.T) {
		opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		err := classifier.ClassifyTransportError(opErr)
		require.NotNil(t, err)
		assert.Equal(t, ErrorTypeNetwork, err.Type)
		assert.True(t, IsRetryable(err))
	})

	t.Run("other errors are left alone", func(t *testing.T) {
		assert.Nil(t, classifier.ClassifyTransportError(errors.New("decode failure")))
	})
}

func TestIsFatal(t *testing.T) {
	quota := (&ErrorClassifier{Provider: "openai"}).ClassifyQuotaError(400, "insufficient_quota", nil)

	assert.True(t, IsFatal(quota), "quota errors abort the run")
	assert.True(t, IsFatal(fmt.Errorf("compare: %w", quota)), "wrapping keeps the classification")
	assert.True(t, IsFatal(fmt.Errorf("judge: %w", ErrCallBudgetExceeded)))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestProviderError_Error(t *testing.T) {
	err := NewProviderError("anthropic", ErrorTypeRateLimit, 529, "overloaded", errors.New("busy"))

	assert.Equal(t, "anthropic error (HTTP 529) [rate_limit]: overloaded: busy", err.Error())
	assert.ErrorContains(t, err, "busy")
	assert.Equal(t, "busy", errors.Unwrap(err).Error())
}
