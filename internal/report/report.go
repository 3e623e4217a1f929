// Package report turns comparison tallies into win ratios, run summaries
// and tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
)

// WinRatio is LLM / (LLM + Human). Invalid outcomes are excluded from the
// denominator; ok is false when there are no valid outcomes.
func WinRatio(t domain.Tally) (ratio float64, ok bool) {
	valid := t.LLM + t.Human
	if valid == 0 {
		return 0, false
	}
	return float64(t.LLM) / float64(valid), true
}

// AvgWinRatio is the mean of the defined win ratios of ts. ok is false when
// none is defined.
func AvgWinRatio(ts []domain.Tally) (avg float64, ok bool) {
	var sum float64
	n := 0
	for _, t := range ts {
		if r, ok := WinRatio(t); ok {
			sum += r
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// PermutationLabel names a run by what was compared and who judged it.
func PermutationLabel(itemType, comparisonEngine, comparisonPromptKey, descriptionEngine, descriptionPromptKey string) string {
	return itemType +
		"---DESCRIPTION-" + descriptionPromptKey + "|" + descriptionEngine +
		"---COMPARISON-" + comparisonPromptKey + "|" + comparisonEngine
}

// ItemDetails is the per-item entry of a run summary.
type ItemDetails struct {
	domain.Tally
	LLMWinRatio *float64 `json:"LLM_win_ratio"`
}

// RunSummary is the JSON result of one run.
type RunSummary struct {
	Label         string                 `json:"-"`
	DetailsByItem map[string]ItemDetails `json:"details_by_item"`
	TotalTallies  domain.Tally           `json:"total_tallies"`

	// AvgLLMWinRatio is the win ratio of the pooled tallies.
	AvgLLMWinRatio *float64 `json:"avg_llm_win_ratio"`

	// MeanItemWinRatio is the unweighted mean of the per-item ratios.
	MeanItemWinRatio *float64 `json:"mean_item_llm_win_ratio"`

	Skipped []string `json:"skipped,omitempty"`
}

// Summarize builds the summary of a run from its per-item tallies.
func Summarize(label string, tallies map[string]domain.Tally, total domain.Tally, skipped []string) RunSummary {
	s := RunSummary{
		Label:         label,
		DetailsByItem: make(map[string]ItemDetails, len(tallies)),
		TotalTallies:  total,
		Skipped:       slices.Sorted(slices.Values(skipped)),
	}
	items := make([]domain.Tally, 0, len(tallies))
	for title, t := range tallies {
		s.DetailsByItem[title] = ItemDetails{Tally: t, LLMWinRatio: ratioPtr(WinRatio(t))}
		items = append(items, t)
	}
	s.AvgLLMWinRatio = ratioPtr(WinRatio(total))
	s.MeanItemWinRatio = ratioPtr(AvgWinRatio(items))
	return s
}

func ratioPtr(r float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &r
}

// WriteJSON writes summaries keyed by label under "results", the layout of
// merged run output files.
func WriteJSON(w io.Writer, summaries ...RunSummary) error {
	results := make(map[string]RunSummary, len(summaries))
	for _, s := range summaries {
		results[s.Label] = s
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any{"results": results}); err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	return nil
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func formatRatio(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*r, 'f', 3, 64)
}

// WriteTable renders a run summary as a markdown table, one row per item
// sorted by title, followed by the totals.
func WriteTable(w io.Writer, s RunSummary) error {
	if s.Label != "" {
		if _, err := fmt.Fprintf(w, "### %s\n\n", s.Label); err != nil {
			return err
		}
	}

	table := newTable(w, []string{"Item", "Human", "LLM", "Invalid", "LLM win ratio"})
	titles := make([]string, 0, len(s.DetailsByItem))
	for title := range s.DetailsByItem {
		titles = append(titles, title)
	}
	slices.Sort(titles)

	for _, title := range titles {
		d := s.DetailsByItem[title]
		if err := table.Append([]string{
			title, strconv.Itoa(d.Human), strconv.Itoa(d.LLM), strconv.Itoa(d.Invalid), formatRatio(d.LLMWinRatio),
		}); err != nil {
			return err
		}
	}
	if err := table.Append([]string{
		"**total**",
		strconv.Itoa(s.TotalTallies.Human),
		strconv.Itoa(s.TotalTallies.LLM),
		strconv.Itoa(s.TotalTallies.Invalid),
		formatRatio(s.AvgLLMWinRatio),
	}); err != nil {
		return err
	}
	return table.Render()
}

// WriteCacheStats renders the position-bias diagnostic: per engine and
// prompt, how often the first presented description won.
func WriteCacheStats(w io.Writer, stats domain.CacheStats) error {
	table := newTable(w, []string{
		"Engine", "Prompt", "Item type", "Description engine", "Description prompt",
		"Total", "First wins", "Second wins", "Invalid", "First-position rate",
	})
	for _, g := range stats.Groups {
		rate := "n/a"
		if r, ok := g.FirstPositionRate(); ok {
			rate = strconv.FormatFloat(r, 'f', 3, 64)
		}
		if err := table.Append([]string{
			g.Engine, g.PromptKey, g.ItemType, g.DescriptionEngine, g.DescriptionPromptKey,
			strconv.Itoa(g.Total), strconv.Itoa(g.FirstWins), strconv.Itoa(g.SecondWins), strconv.Itoa(g.Invalid), rate,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
