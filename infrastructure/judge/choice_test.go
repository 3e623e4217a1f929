package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeChoice(t *testing.T) {
	candidates := []int{2345, 8765}

	tests := []struct {
		name   string
		reply  string
		wantID int
		wantOK bool
	}{
		{"integer answer", `{"answer": 8765}`, 8765, true},
		{"digit string answer", `{"answer": "2345"}`, 2345, true},
		{"padded digit string", `{"answer": " 2345 "}`, 2345, true},
		{"whole float", `{"answer": 8765.0}`, 8765, true},
		{"null answer", `{"answer": null}`, 0, false},
		{"missing answer", `{"choice": 8765}`, 0, false},
		{"non candidate", `{"answer": 1234}`, 0, false},
		{"fractional", `{"answer": 8765.5}`, 0, false},
		{"word answer", `{"answer": "the first one"}`, 0, false},
		{"list answer", `{"answer": [8765]}`, 0, false},
		{"no json", `I pick 8765`, 0, false},
		{"malformed json", `{"answer": }`, 0, false},
		{"annotated answer", `{"answer": {"title": "Answer", "description": 2345, "type": "Integer"}}`, 2345, true},
		{"annotated digit string", `{"answer": {"title": "answer", "description": "8765"}}`, 8765, true},
		{"annotated wrong title", `{"answer": {"title": "reasoning", "description": 2345}}`, 0, false},
		{"annotated null description", `{"answer": {"title": "answer", "description": null}}`, 0, false},
		{"annotated without description", `{"answer": {"title": "answer"}}`, 0, false},
		{"markdown fenced", "Here you go:\n```json\n{\"answer\": 2345}\n```", 2345, true},
		{"surrounded by prose", `The writer chose {"answer": 8765} in the end.`, 8765, true},
		{"braces inside strings", `{"note": "a } brace", "answer": 2345}`, 2345, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := DecodeChoice(tt.reply, candidates)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestOrJoin(t *testing.T) {
	assert.Equal(t, "", orJoin(nil))
	assert.Equal(t, "1500", orJoin([]int{1500}))
	assert.Equal(t, "1500 or 9999", orJoin([]int{1500, 9999}))
	assert.Equal(t, "1, 2 or 3", orJoin([]int{1, 2, 3}))
}
