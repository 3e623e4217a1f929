package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
	"github.com/lauritowal/ai-ai-bias/internal/report"
)

// DefaultConcurrency is the number of items compared at once.
const DefaultConcurrency = 3

// CompareLists compares every description of list1 against every
// description of list2 in both presentation orders: all (a, b) pairs first,
// then all (b, a) pairs. Comparisons run sequentially. The returned winners
// follow that order.
func (c *Comparator) CompareLists(
	ctx context.Context,
	engine string,
	cfg domain.ComparisonPromptConfig,
	list1, list2 []domain.Description,
	addendum string,
) ([]*domain.Description, domain.Tally, error) {
	type pair struct{ first, second domain.Description }
	pairs := make([]pair, 0, 2*len(list1)*len(list2))
	for _, a := range list1 {
		for _, b := range list2 {
			pairs = append(pairs, pair{a, b})
		}
	}
	for _, b := range list2 {
		for _, a := range list1 {
			pairs = append(pairs, pair{b, a})
		}
	}

	log := clog.FromContext(ctx)
	winners := make([]*domain.Description, 0, len(pairs))
	var tally domain.Tally
	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			return winners, tally, err
		}
		log.Debugf("Executing description comparison (%d/%d): %s vs %s", i+1, len(pairs), p.first.UID, p.second.UID)

		winner, err := c.Compare(ctx, engine, cfg, p.first, p.second, addendum)
		if err != nil {
			return winners, tally, err
		}
		winners = append(winners, winner)
		tally.Record(domain.OutcomeOf(winner))
	}
	return winners, tally, nil
}

// BuildAddendum returns the extra prompt material cfg asks for, taken from
// the human batch. An empty string means no addendum.
func BuildAddendum(cfg domain.ComparisonPromptConfig, human domain.HumanBatch) (string, error) {
	switch cfg.IncludeAddendumType {
	case "":
		return "", nil
	case domain.AddendumFullPaperBody:
		body, ok := human.MetaString("body")
		if !ok {
			return "", fmt.Errorf("%w: %q addendum requested by %s, but %s %q has no meta.body",
				domain.ErrMissingAddendum, cfg.IncludeAddendumType, cfg.PromptKey, cfg.ItemType, human.Title)
		}
		return "\n---\n\n## Addendum: Full Paper Body\n\n" + body, nil
	default:
		return "", fmt.Errorf("unknown addendum type %q: %w", cfg.IncludeAddendumType, domain.ErrInvalidConfiguration)
	}
}

// BatchRequest describes one run over an item type.
type BatchRequest struct {
	// Engine is the judge engine.
	Engine string `validate:"required"`

	// Prompt is the comparison question.
	Prompt domain.ComparisonPromptConfig `validate:"required"`

	// ItemType selects the human batches.
	ItemType string `validate:"required"`

	// DescriptionEngine and DescriptionPromptKey select the LLM batch for
	// each item.
	DescriptionEngine    string `validate:"required"`
	DescriptionPromptKey string

	// TitleLike keeps only items whose title contains one of the fragments,
	// ignoring case.
	TitleLike []string

	// DescriptionLimit keeps only the first N LLM descriptions per item.
	// Zero keeps all.
	DescriptionLimit int `validate:"gte=0"`

	// Concurrency bounds the items compared at once. Zero means
	// DefaultConcurrency.
	Concurrency int `validate:"gte=0"`
}

// BatchResult is the outcome of CompareSavedBatches.
type BatchResult struct {
	RunID uuid.UUID
	Label string

	// TalliesByTitle is keyed by domain.SafeTitle of the item title.
	TalliesByTitle map[string]domain.Tally
	Total          domain.Tally

	// WinnersByTitle holds the per-pair winners in comparison order.
	WinnersByTitle map[string][]*domain.Description

	// Skipped lists titles that had no matching LLM batch.
	Skipped []string

	CompletedItems int
	TotalItems     int
	Duration       time.Duration
}

// ItemError reports which item aborted a batch run.
type ItemError struct {
	Title string
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %q: %v", e.Title, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// BatchComparator runs comparisons over saved description batches.
type BatchComparator struct {
	comparator *Comparator
	store      ports.BatchStore
	metrics    ports.MetricsCollector
}

// NewBatchComparator creates a batch comparator. metrics may be nil.
func NewBatchComparator(comparator *Comparator, store ports.BatchStore, metrics ports.MetricsCollector) *BatchComparator {
	return &BatchComparator{comparator: comparator, store: store, metrics: metrics}
}

// itemOutcome is what one worker hands back for merging.
type itemOutcome struct {
	title   string
	winners []*domain.Description
	tally   domain.Tally
	skipped bool
}

// CompareSavedBatches compares every human batch of req.ItemType against
// its LLM counterpart. Items run concurrently; the first failing item
// cancels the others and its error is returned as an *ItemError. Items
// without an LLM batch are skipped with a warning and listed in
// BatchResult.Skipped.
func (b *BatchComparator) CompareSavedBatches(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.Engine == "" || req.ItemType == "" || req.DescriptionEngine == "" || req.Prompt.PromptKey == "" {
		return nil, fmt.Errorf("batch request needs engine, item type, description engine and prompt: %w",
			domain.ErrInvalidConfiguration)
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	start := time.Now()
	result := &BatchResult{
		RunID: uuid.New(),
		Label: report.PermutationLabel(
			req.ItemType, req.Engine, req.Prompt.PromptKey, req.DescriptionEngine, req.DescriptionPromptKey),
		TalliesByTitle: make(map[string]domain.Tally),
		WinnersByTitle: make(map[string][]*domain.Description),
	}

	log := clog.FromContext(ctx).With("run_id", result.RunID.String(), "label", result.Label)
	ctx = clog.WithLogger(ctx, log)

	humans, err := b.store.LoadHumanBatches(ctx, req.ItemType, req.TitleLike)
	if err != nil {
		return nil, fmt.Errorf("failed to load human batches: %w", err)
	}
	result.TotalItems = len(humans)
	log.Infof("Starting comparison run over %d %s items", len(humans), req.ItemType)

	var mu sync.Mutex
	merge := func(o itemOutcome) {
		mu.Lock()
		defer mu.Unlock()

		if o.skipped {
			result.Skipped = append(result.Skipped, o.title)
			b.countItem(req.ItemType, "skipped")
			return
		}
		key := domain.SafeTitle(o.title)
		result.TalliesByTitle[key] = result.TalliesByTitle[key].Merge(o.tally)
		result.WinnersByTitle[key] = append(result.WinnersByTitle[key], o.winners...)
		result.Total = result.Total.Merge(o.tally)
		result.CompletedItems++
		b.countItem(req.ItemType, "completed")

		log.With("item_title", o.title, "file_title", key).
			With("human", o.tally.Human, "llm", o.tally.LLM, "invalid", o.tally.Invalid).
			Infof("Comparison batches completed: %d/%d", result.CompletedItems, result.TotalItems)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, human := range humans {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, err := b.compareItem(gctx, req, human)
			if err != nil {
				b.countItem(req.ItemType, "failed")
				clog.FromContext(gctx).With("item_title", human.Title).
					Errorf("Error processing item: %v", err)
				return &ItemError{Title: human.Title, Err: err}
			}
			merge(o)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A parent cancellation can stop the loop before any worker fails.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	log.With("human", result.Total.Human, "llm", result.Total.LLM, "invalid", result.Total.Invalid).
		With("skipped", len(result.Skipped)).
		Info("Comparison run finished")
	return result, nil
}

// compareItem runs the comparisons for one human batch.
func (b *BatchComparator) compareItem(ctx context.Context, req BatchRequest, human domain.HumanBatch) (itemOutcome, error) {
	log := clog.FromContext(ctx).With("item_title", human.Title)
	log.Infof("Begin description comparisons for [<%s> --> %q]", req.ItemType, human.Title)

	llmBatches, err := b.store.LoadLLMBatches(ctx, ports.LLMBatchQuery{
		ItemType:  req.ItemType,
		Title:     human.Title,
		Engine:    req.DescriptionEngine,
		PromptKey: req.DescriptionPromptKey,
	})
	if err != nil {
		return itemOutcome{}, fmt.Errorf("failed to load LLM batches: %w", err)
	}
	if len(llmBatches) == 0 {
		log.Warn("No LLM description batches found, skipping item")
		return itemOutcome{title: human.Title, skipped: true}, nil
	}

	addendum, err := BuildAddendum(req.Prompt, human)
	if err != nil {
		return itemOutcome{}, err
	}

	// One batch per (item, engine, prompt) is expected; the first wins.
	humanDescs := domain.HumanDescriptions(human)
	llmDescs := domain.LLMDescriptions(llmBatches[0], req.DescriptionLimit)

	winners, tally, err := b.comparator.CompareLists(ctx, req.Engine, req.Prompt, humanDescs, llmDescs, addendum)
	if err != nil {
		return itemOutcome{}, err
	}
	return itemOutcome{title: human.Title, winners: winners, tally: tally}, nil
}

func (b *BatchComparator) countItem(itemType, status string) {
	if b.metrics == nil {
		return
	}
	b.metrics.RecordCounter(ports.MetricBatchItems, 1, map[string]string{"item_type": itemType, "status": status})
}

// IsItemError reports whether err came from a failing batch item and
// returns it.
func IsItemError(err error) (*ItemError, bool) {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
