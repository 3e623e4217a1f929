package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLLMError tests the functionality of the LLMError error type.
func TestLLMError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewLLMError("gpt-4o", "complete", cause)

	assert.Equal(t, "LLM error: model=gpt-4o, operation=complete, err=connection reset", err.Error())
	assert.Equal(t, "gpt-4o", err.Model)
	assert.Equal(t, "complete", err.Operation)
	assert.True(t, errors.Is(err, cause))
}

// TestCacheError verifies that the error message is formatted correctly and
// contains the expected context.
func TestCacheError(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "write failure",
			key:       "mock/marketplace/a/b",
			operation: "Put",
			err:       errors.New("disk full"),
			wantMsg:   "cache error: operation=Put, key=mock/marketplace/a/b, err=disk full",
		},
		{
			name:      "cache corruption",
			key:       "mock/marketplace/a/b",
			operation: "Get",
			err:       ErrCacheCorrupted,
			wantMsg:   "cache error: operation=Get, key=mock/marketplace/a/b, err=cache corrupted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCacheError(tt.key, tt.operation, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.key, err.Key)
			assert.Equal(t, tt.operation, err.Operation)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

// TestConfigError verifies that the error message contains the
// configuration key.
func TestConfigError(t *testing.T) {
	err := NewConfigError("product/marketplace", ErrPromptConfigNotFound)

	assert.Equal(t, "config error: key=product/marketplace, err=comparison prompt config not found", err.Error())
	assert.Equal(t, "product/marketplace", err.ConfigKey)
	assert.True(t, errors.Is(err, ErrPromptConfigNotFound))
}

func TestCommonInfrastructureErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrInvalidResponse, "invalid response"},
		{ErrCacheCorrupted, "cache corrupted"},
		{ErrConfigNotFound, "configuration not found"},
		{ErrPromptConfigNotFound, "comparison prompt config not found"},
		{ErrUnknownEngine, "unknown engine"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

// TestErrorUnwrapping ensures every custom error type in the package
// supports unwrapping.
func TestErrorUnwrapping(t *testing.T) {
	baseErr := errors.New("underlying error")

	errorList := []interface {
		error
		Unwrap() error
	}{
		NewLLMError("model", "op", baseErr),
		NewCacheError("key", "op", baseErr),
		NewConfigError("key", baseErr),
	}

	for _, err := range errorList {
		unwrapped := err.Unwrap()
		assert.Equal(t, baseErr, unwrapped, "%T should unwrap to base error", err)
		assert.True(t, errors.Is(err, baseErr), "%T should match base error with Is", err)
	}
}
