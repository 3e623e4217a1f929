// Package testutils provides synthetic description batches for tests. These
// components are intended for internal use within the project's test suites
// and are not part of the public API.
package testutils

import (
	"fmt"
	"math/rand/v2"

	"github.com/lauritowal/ai-ai-bias/infrastructure/batches"
	"github.com/lauritowal/ai-ai-bias/internal/domain"
)

// LLMMarker appears in every generated LLM description and in no human one,
// so fake judges can tell the two origins apart.
const LLMMarker = "Discover"

var (
	adjectives = []string{"Oak", "Copper", "Linen", "Granite", "Velvet", "Cedar", "Amber", "Slate"}
	nouns      = []string{"Lamp", "Table", "Kettle", "Backpack", "Chair", "Clock", "Mug", "Shelf"}
	features   = []string{"a solid frame", "a matte finish", "hand-stitched seams", "a two year warranty", "recycled materials"}
	pitches    = []string{"effortless style", "everyday comfort", "timeless design", "unmatched quality"}
)

// BatchDataset holds matching human and LLM batches, one of each per title.
type BatchDataset struct {
	Humans []domain.HumanBatch
	LLM    []domain.LLMBatch
}

// GenerateBatchDataset creates size items of itemType with LLM batches
// attributed to engine and promptKey. The same seed yields the same dataset.
func GenerateBatchDataset(itemType string, size int, seed uint64, engine, promptKey string) *BatchDataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	ds := &BatchDataset{
		Humans: make([]domain.HumanBatch, 0, size),
		LLM:    make([]domain.LLMBatch, 0, size),
	}
	for i := range size {
		title := fmt.Sprintf("%s %s No. %d", pick(rng, adjectives), pick(rng, nouns), i+1)

		ds.Humans = append(ds.Humans, domain.HumanBatch{
			DescriptionBatch: domain.DescriptionBatch{
				ItemType:     itemType,
				Title:        title,
				Descriptions: []domain.DescriptionText{humanText(rng, title)},
				Origin:       domain.OriginHuman,
			},
		})
		ds.LLM = append(ds.LLM, domain.LLMBatch{
			DescriptionBatch: domain.DescriptionBatch{
				ItemType:     itemType,
				Title:        title,
				Descriptions: []domain.DescriptionText{llmText(rng, title), llmText(rng, title)},
				Origin:       domain.OriginLLM,
			},
			Engine:              engine,
			GenerationPromptKey: promptKey,
		})
	}
	return ds
}

// SaveBatchDataset writes ds under root in the layout the file store reads.
func SaveBatchDataset(ds *BatchDataset, root string) error {
	store := batches.NewFileStore(root)
	for _, h := range ds.Humans {
		if _, err := store.SaveHumanBatch(h); err != nil {
			return fmt.Errorf("failed to save human batch %q: %w", h.Title, err)
		}
	}
	for _, l := range ds.LLM {
		if _, err := store.SaveLLMBatch(l); err != nil {
			return fmt.Errorf("failed to save llm batch %q: %w", l.Title, err)
		}
	}
	return nil
}

func pick(rng *rand.Rand, xs []string) string {
	return xs[rng.IntN(len(xs))]
}

func humanText(rng *rand.Rand, title string) domain.DescriptionText {
	return domain.DescriptionText(fmt.Sprintf("%s. Comes with %s. Ships in %d days.",
		title, pick(rng, features), 1+rng.IntN(7)))
}

func llmText(rng *rand.Rand, title string) domain.DescriptionText {
	return domain.DescriptionText(fmt.Sprintf("%s the %s: %s meets %s.",
		LLMMarker, title, pick(rng, pitches), pick(rng, features)))
}
