// Package domain contains pure, dependency-free domain models and types
// for the comparison engine.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Origin identifies who authored a description.
type Origin string

const (
	// OriginHuman marks descriptions written by people, typically scraped
	// from the source listing.
	OriginHuman Origin = "Human"

	// OriginLLM marks descriptions produced by a generation prompt.
	OriginLLM Origin = "LLM"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool { return o == OriginHuman || o == OriginLLM }

// Description is one candidate text shown to a judge.
// Descriptions are derived from description batches on every read and are
// never persisted on their own. Two descriptions are the same description
// only if every field matches, which is what the comparison cache relies on
// when it maps a stored winner back to one side of a pair.
type Description struct {
	// UID is the content hash of Text, see MakeUID.
	UID string `json:"uid"`

	// Text is the literal content presented to the judge.
	Text string `json:"text"`

	// Origin tells whether a human or an LLM wrote the text.
	Origin Origin `json:"origin"`

	// Engine is the generating model. Required when Origin is OriginLLM.
	Engine string `json:"engine,omitempty"`

	// PromptKey is the generation prompt key. Required when Origin is
	// OriginLLM.
	PromptKey string `json:"prompt_key,omitempty"`
}

// MakeUID returns the hex MD5 digest of the UTF-8 bytes of text.
// The hash is over the text only; origin and engine are metadata, so
// identical text generated by different engines shares a cache identity.
// MD5 keeps uids compatible with caches written by earlier runs.
func MakeUID(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewDescription builds a Description with its UID derived from text.
func NewDescription(text string, origin Origin, engine, promptKey string) Description {
	return Description{
		UID:       MakeUID(text),
		Text:      text,
		Origin:    origin,
		Engine:    engine,
		PromptKey: promptKey,
	}
}

// Validate checks the origin-specific invariants of d.
func (d Description) Validate() error {
	verr := NewValidationError("Description")
	if !d.Origin.Valid() {
		verr.AddError(fmt.Sprintf("unknown origin %q", d.Origin))
	}
	if d.UID != MakeUID(d.Text) {
		verr.AddError("uid does not match text")
	}
	if d.Origin == OriginLLM {
		if d.Engine == "" {
			verr.AddError("engine is required for LLM descriptions")
		}
		if d.PromptKey == "" {
			verr.AddError("prompt_key is required for LLM descriptions")
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}
