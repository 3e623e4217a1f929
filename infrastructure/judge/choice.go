package judge

import (
	"bytes"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// choicePayload is the shape the extraction prompt asks for.
type choicePayload struct {
	Answer json.RawMessage `json:"answer"`
}

// annotatedAnswer is the one tolerated deviation: some models echo the
// schema annotation and put the ID in its description,
// {"answer": {"title": "answer", "description": 7432}}.
type annotatedAnswer struct {
	Title       string          `json:"title" validate:"eq_ignore_case=answer"`
	Description json.RawMessage `json:"description" validate:"required"`
}

var payloadValidator = validator.New()

// DecodeChoice reads the chosen ID from a JSON extraction reply. ok is
// false when the reply holds no JSON object, the answer is null, or the
// answer does not coerce to one of candidates.
func DecodeChoice(reply string, candidates []int) (id int, ok bool) {
	raw := extractJSON(reply)
	if raw == "" {
		return 0, false
	}

	var payload choicePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0, false
	}

	id, ok = coerceID(payload.Answer)
	if !ok {
		var annotated annotatedAnswer
		if err := json.Unmarshal(payload.Answer, &annotated); err != nil {
			return 0, false
		}
		if err := payloadValidator.Struct(annotated); err != nil {
			return 0, false
		}
		if id, ok = coerceID(annotated.Description); !ok {
			return 0, false
		}
	}

	if !slices.Contains(candidates, id) {
		return 0, false
	}
	return id, true
}

// coerceID accepts an integer, a float with no fractional part, or a string
// holding decimal digits.
func coerceID(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		if number != math.Trunc(number) || number < 0 || number > math.MaxInt32 {
			return 0, false
		}
		return int(number), true
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}

	return 0, false
}

// extractJSON returns the first JSON object in response. Models often wrap
// JSON in markdown code fences or surround it with prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += len("```")
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			if candidate := strings.TrimSpace(response[start : start+end]); strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}

	return ""
}

// orJoin renders IDs as "1, 2 or 3".
func orJoin(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	if len(parts) <= 1 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
}
