package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanDescriptions_PrependsTitle(t *testing.T) {
	batch := HumanBatch{DescriptionBatch: DescriptionBatch{
		ItemType:     "product",
		Title:        "Widget",
		Descriptions: []DescriptionText{"A sturdy widget."},
		Origin:       OriginHuman,
	}}

	got := HumanDescriptions(batch)

	require.Len(t, got, 1)
	assert.Equal(t, "Widget\n\nA sturdy widget.", got[0].Text)
	assert.Equal(t, MakeUID("Widget\n\nA sturdy widget."), got[0].UID)
	assert.Equal(t, OriginHuman, got[0].Origin)
	assert.Empty(t, got[0].Engine)
}

func TestLLMDescriptions_VerbatimAndLimit(t *testing.T) {
	batch := LLMBatch{
		DescriptionBatch: DescriptionBatch{
			ItemType:     "product",
			Title:        "Widget",
			Descriptions: []DescriptionText{"one", "two", "three"},
			Origin:       OriginLLM,
		},
		Engine:              "mock",
		GenerationPromptKey: "from_description",
	}

	t.Run("no limit keeps all", func(t *testing.T) {
		got := LLMDescriptions(batch, 0)
		require.Len(t, got, 3)
		assert.Equal(t, "one", got[0].Text, "LLM text must not carry the title")
		assert.Equal(t, "mock", got[0].Engine)
		assert.Equal(t, "from_description", got[0].PromptKey)
	})

	t.Run("limit truncates", func(t *testing.T) {
		got := LLMDescriptions(batch, 2)
		require.Len(t, got, 2)
		assert.Equal(t, "two", got[1].Text)
	})

	t.Run("limit above length keeps all", func(t *testing.T) {
		assert.Len(t, LLMDescriptions(batch, 10), 3)
	})
}

func TestDescriptionText_UnmarshalJSON(t *testing.T) {
	var batch LLMBatch
	raw := `{
		"item_type": "proposal",
		"title": "Grant",
		"descriptions": ["plain", {"b": 2, "a": "x"}],
		"origin": "LLM",
		"llm_engine": "mock",
		"generation_prompt_nickname": "p"
	}`

	require.NoError(t, json.Unmarshal([]byte(raw), &batch))

	require.Len(t, batch.Descriptions, 2)
	assert.Equal(t, DescriptionText("plain"), batch.Descriptions[0])
	assert.Equal(t, DescriptionText(`{"a":"x","b":2}`), batch.Descriptions[1])
	assert.Equal(t, "Grant", batch.Title)
	assert.Equal(t, "mock", batch.Engine)
}

func TestHumanBatch_MetaString(t *testing.T) {
	b := HumanBatch{Meta: map[string]any{"body": "full text", "year": 2020.0}}

	body, ok := b.MetaString("body")
	assert.True(t, ok)
	assert.Equal(t, "full text", body)

	_, ok = b.MetaString("year")
	assert.False(t, ok)

	_, ok = HumanBatch{}.MetaString("body")
	assert.False(t, ok)
}

func TestSafeTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Widget", "widget"},
		{"The Widget: Deluxe Edition!", "the_widget_deluxe_edition"},
		{"A very long product title that keeps going on", "a_very_long_product_title_that_k"},
		{"Café au lait", "caf_au_lait"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeTitle(tt.title))
		})
	}
}
