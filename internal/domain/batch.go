package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// DescriptionText is one entry of a batch's description list. Batch files
// may hold either plain strings or structured JSON objects; objects are kept
// as their canonical JSON encoding (sorted keys, no insignificant space) so
// the same object always hashes to the same uid.
type DescriptionText string

// UnmarshalJSON accepts a JSON string or any other JSON value.
func (t *DescriptionText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = DescriptionText(s)
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("description is neither a string nor a JSON value: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to canonicalize structured description: %w", err)
	}
	*t = DescriptionText(canonical)
	return nil
}

// DescriptionBatch holds the fields shared by human and LLM batches.
type DescriptionBatch struct {
	ItemType     string            `json:"item_type"`
	Title        string            `json:"title"`
	Descriptions []DescriptionText `json:"descriptions"`
	Origin       Origin            `json:"origin"`
}

// HumanBatch is the set of human-written descriptions for one item.
type HumanBatch struct {
	DescriptionBatch

	// Meta carries free-form source data, such as the full paper body
	// under "body".
	Meta map[string]any `json:"meta,omitempty"`
}

// LLMBatch is the set of descriptions one engine generated for one item
// from one generation prompt.
type LLMBatch struct {
	DescriptionBatch

	Engine               string `json:"llm_engine"`
	GenerationPromptKey  string `json:"generation_prompt_nickname"`
	GenerationPromptText string `json:"generation_prompt_text,omitempty"`
}

// HumanDescriptions materializes the descriptions of a human batch. The
// item title is prepended to every text, because human copy often assumes
// the title is already known to the reader.
func HumanDescriptions(b HumanBatch) []Description {
	out := make([]Description, 0, len(b.Descriptions))
	for _, text := range b.Descriptions {
		out = append(out, NewDescription(b.Title+"\n\n"+string(text), OriginHuman, "", ""))
	}
	return out
}

// LLMDescriptions materializes the descriptions of an LLM batch exactly as
// generated, with no title prepended. A positive limit keeps only the first
// limit descriptions.
func LLMDescriptions(b LLMBatch, limit int) []Description {
	texts := b.Descriptions
	if limit > 0 && limit < len(texts) {
		texts = texts[:limit]
	}
	out := make([]Description, 0, len(texts))
	for _, text := range texts {
		out = append(out, NewDescription(string(text), OriginLLM, b.Engine, b.GenerationPromptKey))
	}
	return out
}

// MetaString returns the string stored under key in the batch meta.
func (b HumanBatch) MetaString(key string) (string, bool) {
	if b.Meta == nil {
		return "", false
	}
	s, ok := b.Meta[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

var unsafeTitleChars = regexp.MustCompile(`[^A-Za-z0-9 ]+`)

// maxSafeTitleLen bounds file-safe titles so they fit in file names.
const maxSafeTitleLen = 32

// SafeTitle turns an item title into the key used for per-item tallies and
// output files: punctuation removed, spaces replaced by underscores,
// lower-cased and truncated.
func SafeTitle(title string) string {
	cleaned := unsafeTitleChars.ReplaceAllString(title, "")
	cleaned = strings.ToLower(strings.ReplaceAll(cleaned, " ", "_"))
	if len(cleaned) > maxSafeTitleLen {
		cleaned = cleaned[:maxSafeTitleLen]
	}
	return cleaned
}
