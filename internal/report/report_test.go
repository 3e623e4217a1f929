package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
)

func TestWinRatio(t *testing.T) {
	tests := []struct {
		name  string
		tally domain.Tally
		want  float64
		ok    bool
	}{
		{"invalid excluded from denominator", domain.Tally{Human: 1, LLM: 3, Invalid: 6}, 0.75, true},
		{"all llm", domain.Tally{LLM: 4}, 1, true},
		{"all human", domain.Tally{Human: 2, Invalid: 1}, 0, true},
		{"all invalid", domain.Tally{Invalid: 5}, 0, false},
		{"empty", domain.Tally{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := WinRatio(tt.tally)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAvgWinRatio(t *testing.T) {
	// Given one all-invalid tally among defined ones
	tallies := []domain.Tally{
		{Human: 1, LLM: 1},
		{LLM: 2},
		{Invalid: 3},
	}

	// When averaging
	avg, ok := AvgWinRatio(tallies)

	// Then the undefined ratio is ignored
	require.True(t, ok)
	assert.InDelta(t, 0.75, avg, 1e-9)

	_, ok = AvgWinRatio([]domain.Tally{{Invalid: 1}})
	assert.False(t, ok)
	_, ok = AvgWinRatio(nil)
	assert.False(t, ok)
}

func TestPermutationLabel(t *testing.T) {
	got := PermutationLabel("product", "gpt-4o", "marketplace", "claude-3-opus", "describe_product")
	assert.Equal(t, "product---DESCRIPTION-describe_product|claude-3-opus---COMPARISON-marketplace|gpt-4o", got)
}

func TestSummarize(t *testing.T) {
	// Given two items, one of which only produced invalid answers
	tallies := map[string]domain.Tally{
		"widget": {Human: 1, LLM: 3},
		"gadget": {Invalid: 2},
	}
	total := domain.Tally{Human: 1, LLM: 3, Invalid: 2}

	// When summarizing
	s := Summarize("label", tallies, total, []string{"orphan_item", "another"})

	// Then per-item ratios and the pooled ratio are filled where defined
	require.NotNil(t, s.DetailsByItem["widget"].LLMWinRatio)
	assert.InDelta(t, 0.75, *s.DetailsByItem["widget"].LLMWinRatio, 1e-9)
	assert.Nil(t, s.DetailsByItem["gadget"].LLMWinRatio)
	require.NotNil(t, s.AvgLLMWinRatio)
	assert.InDelta(t, 0.75, *s.AvgLLMWinRatio, 1e-9)
	require.NotNil(t, s.MeanItemWinRatio)
	assert.InDelta(t, 0.75, *s.MeanItemWinRatio, 1e-9)
	assert.Equal(t, []string{"another", "orphan_item"}, s.Skipped)
}

func TestWriteJSON(t *testing.T) {
	s := Summarize("product---DESCRIPTION-p|e---COMPARISON-q|f",
		map[string]domain.Tally{"widget": {Human: 1, LLM: 1}}, domain.Tally{Human: 1, LLM: 1}, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, s))

	var decoded struct {
		Results map[string]struct {
			DetailsByItem map[string]map[string]any `json:"details_by_item"`
			TotalTallies  domain.Tally              `json:"total_tallies"`
			AvgRatio      *float64                  `json:"avg_llm_win_ratio"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	run, ok := decoded.Results["product---DESCRIPTION-p|e---COMPARISON-q|f"]
	require.True(t, ok)
	want := map[string]any{"Human": 1.0, "LLM": 1.0, "Invalid": 0.0, "LLM_win_ratio": 0.5}
	if diff := cmp.Diff(want, run.DetailsByItem["widget"]); diff != "" {
		t.Errorf("details mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, domain.Tally{Human: 1, LLM: 1}, run.TotalTallies)
	require.NotNil(t, run.AvgRatio)
	assert.InDelta(t, 0.5, *run.AvgRatio, 1e-9)
	assert.NotContains(t, buf.String(), "skipped")
}

func TestWriteTable(t *testing.T) {
	s := Summarize("run", map[string]domain.Tally{
		"b_item": {Human: 2, LLM: 2},
		"a_item": {Invalid: 1},
	}, domain.Tally{Human: 2, LLM: 2, Invalid: 1}, nil)

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, s))
	out := buf.String()

	assert.Contains(t, out, "### run")
	assert.Contains(t, out, "n/a")
	assert.Contains(t, out, "0.500")
	assert.Less(t, strings.Index(out, "a_item"), strings.Index(out, "b_item"), "rows are sorted by title")
	assert.Less(t, strings.Index(out, "b_item"), strings.Index(out, "**total**"))
}

func TestWriteCacheStats(t *testing.T) {
	stats := domain.CacheStats{
		Total: 4,
		Groups: []domain.CacheGroupStats{
			{Engine: "gpt-4o", PromptKey: "marketplace", ItemType: "product", Total: 4, FirstWins: 3, SecondWins: 1},
			{Engine: "claude", PromptKey: "marketplace", ItemType: "product", Total: 1, Invalid: 1},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCacheStats(&buf, stats))

	assert.Contains(t, buf.String(), "0.750")
	assert.Contains(t, buf.String(), "n/a")
	assert.Contains(t, buf.String(), "gpt-4o")
}
