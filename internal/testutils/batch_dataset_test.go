package testutils

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lauritowal/ai-ai-bias/infrastructure/batches"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

func TestGenerateBatchDataset_Deterministic(t *testing.T) {
	a := GenerateBatchDataset("product", 5, 42, "gpt-4o", "from_title")
	b := GenerateBatchDataset("product", 5, 42, "gpt-4o", "from_title")
	c := GenerateBatchDataset("product", 5, 43, "gpt-4o", "from_title")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	require.Len(t, a.Humans, 5)
	require.Len(t, a.LLM, 5)
}

func TestGenerateBatchDataset_MarkerOnlyInLLMText(t *testing.T) {
	ds := GenerateBatchDataset("product", 20, 7, "gpt-4o", "from_title")

	titles := map[string]bool{}
	for i, h := range ds.Humans {
		assert.False(t, titles[h.Title], "duplicate title %q", h.Title)
		titles[h.Title] = true
		assert.Equal(t, h.Title, ds.LLM[i].Title)
		for _, d := range h.Descriptions {
			assert.NotContains(t, string(d), LLMMarker)
		}
		for _, d := range ds.LLM[i].Descriptions {
			assert.True(t, strings.HasPrefix(string(d), LLMMarker))
		}
	}
}

func TestSaveBatchDataset_ReadableByFileStore(t *testing.T) {
	// Given a generated dataset saved to disk
	root := t.TempDir()
	ds := GenerateBatchDataset("product", 3, 1, "gpt-4o", "from_title")
	require.NoError(t, SaveBatchDataset(ds, root))

	// When the file store reads it back
	store := batches.NewFileStore(root)
	humans, err := store.LoadHumanBatches(context.Background(), "product", nil)
	require.NoError(t, err)

	// Then every human batch has its LLM counterpart
	require.Len(t, humans, 3)
	for _, h := range humans {
		llm, err := store.LoadLLMBatches(context.Background(), ports.LLMBatchQuery{
			ItemType: "product", Title: h.Title, Engine: "gpt-4o", PromptKey: "from_title",
		})
		require.NoError(t, err)
		assert.Len(t, llm, 1, h.Title)
	}
}
