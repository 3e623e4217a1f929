package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		entity  string
		errors  []string
		wantMsg string
	}{
		{
			name:    "single error",
			entity:  "ComparisonPromptConfig",
			errors:  []string{"prompt_key is required"},
			wantMsg: "validation error for ComparisonPromptConfig: prompt_key is required",
		},
		{
			name:    "multiple errors",
			entity:  "Description",
			errors:  []string{"unknown origin", "engine is required"},
			wantMsg: "validation errors for Description: [unknown origin engine is required]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := NewValidationError(tt.entity)
			assert.False(t, verr.HasErrors())

			for _, msg := range tt.errors {
				verr.AddError(msg)
			}

			assert.True(t, verr.HasErrors())
			assert.Equal(t, tt.wantMsg, verr.Error())
			assert.True(t, errors.Is(verr, ErrInvalidConfiguration))
		})
	}
}
