package domain

import (
	"fmt"
	"time"
)

// Winner is the stored verdict of one comparison: which presented side won.
type Winner int

const (
	// WinnerInvalid means the judge made no choice that mapped to either
	// side.
	WinnerInvalid Winner = 0

	// WinnerFirst means the first presented description won.
	WinnerFirst Winner = 1

	// WinnerSecond means the second presented description won.
	WinnerSecond Winner = 2
)

// Valid reports whether w is one of the three stored values.
func (w Winner) Valid() bool { return w >= WinnerInvalid && w <= WinnerSecond }

// Resolve maps w back to the matching side of the pair, or nil for
// WinnerInvalid.
func (w Winner) Resolve(d1, d2 Description) *Description {
	switch w {
	case WinnerFirst:
		return &d1
	case WinnerSecond:
		return &d2
	default:
		return nil
	}
}

// AddendumType names extra material appended to a comparison prompt.
type AddendumType string

// AddendumFullPaperBody appends the human batch's meta "body" field.
const AddendumFullPaperBody AddendumType = "full_paper_body"

// ComparisonPromptConfig is the static configuration of one judge question.
// It is unique per (ItemType, PromptKey).
type ComparisonPromptConfig struct {
	PromptKey           string       `yaml:"prompt_key" json:"prompt_key" validate:"required"`
	ItemType            string       `yaml:"item_type" json:"item_type" validate:"required"`
	ItemTypeName        string       `yaml:"item_type_name" json:"item_type_name" validate:"required"`
	ComparisonQuestion  string       `yaml:"comparison_question" json:"comparison_question" validate:"required,min=10"`
	IncludeAddendumType AddendumType `yaml:"include_addendum_type,omitempty" json:"include_addendum_type,omitempty" validate:"omitempty,oneof=full_paper_body"`
}

// ComparisonKey identifies one cached trial. It is order-sensitive:
// (A, B) and (B, A) are distinct trials so position bias can be measured.
type ComparisonKey struct {
	Engine    string
	PromptKey string
	UID1      string
	UID2      string
}

// String renders the key for logs and error messages.
func (k ComparisonKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Engine, k.PromptKey, k.UID1, k.UID2)
}

// KeyFor builds the cache key for presenting d1 then d2.
func KeyFor(engine, promptKey string, d1, d2 Description) ComparisonKey {
	return ComparisonKey{Engine: engine, PromptKey: promptKey, UID1: d1.UID, UID2: d2.UID}
}

// ComparisonRecord is one row of the comparison cache.
type ComparisonRecord struct {
	Key    ComparisonKey
	Winner Winner

	// Denormalized analytics fields. The description fields are taken
	// from whichever side is LLM-generated and are empty when neither is.
	ItemType             string
	DescriptionEngine    string
	DescriptionPromptKey string

	// Provenance. Stores fill empty values when the record is written.
	CreatedTime time.Time
	CreatedUser string
	CreatedHost string
}

// NewComparisonRecord builds the cache row for presenting d1 then d2 under
// engine and cfg. winner must be nil, d1 or d2; anything else returns
// ErrWinnerNotInPair so a verdict is never stored against the wrong pair.
// When d1 equals d2 the winner is ambiguous and maps to WinnerFirst; callers
// that know the chosen position use NewComparisonRecordFor instead.
func NewComparisonRecord(
	engine string,
	cfg ComparisonPromptConfig,
	d1, d2 Description,
	winner *Description,
) (ComparisonRecord, error) {
	w := WinnerInvalid
	if winner != nil {
		switch *winner {
		case d1:
			w = WinnerFirst
		case d2:
			w = WinnerSecond
		default:
			return ComparisonRecord{}, fmt.Errorf("%w: winner %s for pair (%s, %s)",
				ErrWinnerNotInPair, winner.UID, d1.UID, d2.UID)
		}
	}
	return NewComparisonRecordFor(engine, cfg, d1, d2, w)
}

// NewComparisonRecordFor builds the cache row for presenting d1 then d2 with
// the winning position w.
func NewComparisonRecordFor(
	engine string,
	cfg ComparisonPromptConfig,
	d1, d2 Description,
	w Winner,
) (ComparisonRecord, error) {
	if !w.Valid() {
		return ComparisonRecord{}, fmt.Errorf("%w: winner position %d for pair (%s, %s)",
			ErrWinnerNotInPair, int(w), d1.UID, d2.UID)
	}

	rec := ComparisonRecord{
		Key:      KeyFor(engine, cfg.PromptKey, d1, d2),
		Winner:   w,
		ItemType: cfg.ItemType,
	}
	switch {
	case d1.Origin == OriginLLM:
		rec.DescriptionEngine, rec.DescriptionPromptKey = d1.Engine, d1.PromptKey
	case d2.Origin == OriginLLM:
		rec.DescriptionEngine, rec.DescriptionPromptKey = d2.Engine, d2.PromptKey
	}
	return rec, nil
}

// CacheGroupStats aggregates cache rows sharing one judge setup and one
// description source.
type CacheGroupStats struct {
	Engine               string `json:"comparison_llm_engine"`
	PromptKey            string `json:"comparison_prompt_key"`
	ItemType             string `json:"item_type"`
	DescriptionEngine    string `json:"description_llm_engine"`
	DescriptionPromptKey string `json:"description_prompt_key"`
	Total                int    `json:"total"`
	Invalid              int    `json:"invalid"`
	FirstWins            int    `json:"first_wins"`
	SecondWins           int    `json:"second_wins"`
}

// FirstPositionRate is the share of valid verdicts won by the first
// presented side. A judge without position bias sits near 0.5.
func (g CacheGroupStats) FirstPositionRate() (float64, bool) {
	valid := g.FirstWins + g.SecondWins
	if valid == 0 {
		return 0, false
	}
	return float64(g.FirstWins) / float64(valid), true
}

// CacheStats is the position-bias diagnostic over the whole cache.
type CacheStats struct {
	Total   int               `json:"total"`
	Invalid int               `json:"invalid"`
	Groups  []CacheGroupStats `json:"groups"`
}
