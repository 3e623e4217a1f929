package application

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// Display IDs are drawn from [DisplayIDMin, DisplayIDMax].
const (
	DisplayIDMin = 1500
	DisplayIDMax = 9999
)

// DefaultSeed seeds the display ID source so runs are reproducible.
const DefaultSeed = "b24e179ef8a27f061ae2ac307db2b7b2"

// NewSeededRand returns a PCG source derived from seed.
func NewSeededRand(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(sum[0:8]),
		binary.LittleEndian.Uint64(sum[8:16]),
	))
}

var comparisonPromptTemplate = template.Must(template.New("comparison").Parse(
	"{{.Question}}\n\n" +
		"{{range .Sections}}## {{$.ItemTypeName}} {{.ID}}\n{{.Text}}\n\n{{end}}" +
		"{{.Addendum}}",
))

type promptSection struct {
	ID   int
	Text string
}

type promptData struct {
	Question     string
	ItemTypeName string
	Sections     []promptSection
	Addendum     string
}

// RenderComparisonPrompt builds the judge prompt: the question, then one
// "## <item type name> <display id>" section per description in
// presentation order, then the addendum.
func RenderComparisonPrompt(cfg domain.ComparisonPromptConfig, addendum string, ids [2]int, d1, d2 domain.Description) (string, error) {
	var b strings.Builder
	err := comparisonPromptTemplate.Execute(&b, promptData{
		Question:     cfg.ComparisonQuestion,
		ItemTypeName: cfg.ItemTypeName,
		Sections:     []promptSection{{ids[0], d1.Text}, {ids[1], d2.Text}},
		Addendum:     addendum,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render comparison prompt: %w", err)
	}
	return b.String(), nil
}

// Comparator runs single pairwise comparisons through the cache and the
// judge. It is safe for concurrent use.
type Comparator struct {
	cache   ports.ComparisonCache
	judges  ports.JudgeProvider
	metrics ports.MetricsCollector
	tracer  trace.Tracer

	rngMu sync.Mutex
	rng   *rand.Rand

	// inflight collapses concurrent comparisons of the same key into one
	// judge call.
	inflight singleflight.Group
}

// ComparatorOption configures a Comparator.
type ComparatorOption func(*Comparator)

// WithRand sets the display ID source. Tests pass a fixed sequence here.
func WithRand(rng *rand.Rand) ComparatorOption {
	return func(c *Comparator) { c.rng = rng }
}

// WithMetrics reports cache lookups, outcomes and latency to m.
func WithMetrics(m ports.MetricsCollector) ComparatorOption {
	return func(c *Comparator) { c.metrics = m }
}

// NewComparator creates a comparator. Without WithRand, display IDs come
// from NewSeededRand(DefaultSeed).
func NewComparator(cache ports.ComparisonCache, judges ports.JudgeProvider, opts ...ComparatorOption) (*Comparator, error) {
	if cache == nil {
		return nil, fmt.Errorf("comparator: cache is required: %w", domain.ErrInvalidConfiguration)
	}
	if judges == nil {
		return nil, fmt.Errorf("comparator: judge provider is required: %w", domain.ErrInvalidConfiguration)
	}

	c := &Comparator{
		cache:  cache,
		judges: judges,
		tracer: otel.Tracer("ai-ai-bias/comparator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = NewSeededRand(DefaultSeed)
	}
	return c, nil
}

// displayIDs draws two distinct display IDs.
func (c *Comparator) displayIDs() [2]int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	draw := func() int { return DisplayIDMin + c.rng.IntN(DisplayIDMax-DisplayIDMin+1) }
	first := draw()
	second := draw()
	for second == first {
		second = draw()
	}
	return [2]int{first, second}
}

// Compare asks engine which of d1 and d2, presented in that order, is
// better according to cfg. The result is d1, d2, or nil when the judge made
// no usable choice. A cached verdict is returned without calling the
// judge; a fresh verdict is stored before Compare returns.
func (c *Comparator) Compare(
	ctx context.Context,
	engine string,
	cfg domain.ComparisonPromptConfig,
	d1, d2 domain.Description,
	addendum string,
) (*domain.Description, error) {
	key := domain.KeyFor(engine, cfg.PromptKey, d1, d2)
	ctx, span := c.tracer.Start(ctx, "comparison.compare", trace.WithAttributes(
		attribute.String("comparison.engine", engine),
		attribute.String("comparison.prompt_key", cfg.PromptKey),
		attribute.String("comparison.uid_1", d1.UID),
		attribute.String("comparison.uid_2", d2.UID),
	))
	defer span.End()

	start := time.Now()
	labels := map[string]string{"engine": engine, "prompt_key": cfg.PromptKey}

	winner, found, err := c.cache.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache lookup failed")
		return nil, fmt.Errorf("comparison %s: %w", key, err)
	}

	source := "cache"
	if found {
		c.count(ports.MetricCacheLookups, labels, "result", "hit")
		clog.FromContext(ctx).With("key", key.String()).Debug("Found cached comparison result")
	} else {
		c.count(ports.MetricCacheLookups, labels, "result", "miss")
		source = "judge"

		// The shared call runs on the context of whichever caller started
		// it; if that caller is cancelled, the callers waiting on it receive
		// the same cancellation error.
		v, err, _ := c.inflight.Do(key.String(), func() (any, error) {
			// A call for this key may have finished between the lookup
			// above and this one.
			if w, hit, err := c.cache.Get(ctx, key); err != nil || hit {
				return w, err
			}
			return c.judgeAndStore(ctx, engine, cfg, d1, d2, addendum)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "comparison failed")
			return nil, fmt.Errorf("comparison %s: %w", key, err)
		}
		winner = v.(domain.Winner)
	}

	span.SetAttributes(
		attribute.Bool("comparison.cached", found),
		attribute.Int("comparison.winner", int(winner)),
	)
	c.count(ports.MetricComparisons, labels, "outcome", outcomeLabel(winner))
	if c.metrics != nil {
		c.metrics.RecordLatency(ports.MetricComparisonLatency, time.Since(start), withLabel(labels, "source", source))
	}

	return winner.Resolve(d1, d2), nil
}

// judgeAndStore queries the judge for one presentation order and persists
// the verdict.
func (c *Comparator) judgeAndStore(
	ctx context.Context,
	engine string,
	cfg domain.ComparisonPromptConfig,
	d1, d2 domain.Description,
	addendum string,
) (domain.Winner, error) {
	judge, err := c.judges.JudgeFor(ctx, engine)
	if err != nil {
		return domain.WinnerInvalid, fmt.Errorf("failed to resolve judge %q: %w", engine, err)
	}

	ids := c.displayIDs()
	prompt, err := RenderComparisonPrompt(cfg, addendum, ids, d1, d2)
	if err != nil {
		return domain.WinnerInvalid, err
	}

	reply, err := judge.Complete(ctx, prompt)
	if err != nil {
		return domain.WinnerInvalid, err
	}
	chosen, ok, err := judge.ExtractChoice(ctx, reply, cfg.ItemTypeName, ids[:])
	if err != nil {
		return domain.WinnerInvalid, err
	}

	// The position comes from the display ID, not from the text, so a
	// description compared against itself keeps its side.
	winner := domain.WinnerInvalid
	if ok {
		switch chosen {
		case ids[0]:
			winner = domain.WinnerFirst
		case ids[1]:
			winner = domain.WinnerSecond
		}
	}

	rec, err := domain.NewComparisonRecordFor(engine, cfg, d1, d2, winner)
	if err != nil {
		return domain.WinnerInvalid, err
	}
	if err := c.cache.Put(ctx, rec); err != nil {
		return domain.WinnerInvalid, err
	}

	clog.FromContext(ctx).
		With("key", rec.Key.String()).
		With("display_ids", fmt.Sprintf("%d,%d", ids[0], ids[1])).
		With("winner", outcomeLabel(rec.Winner)).
		Info("Stored comparison result")
	return rec.Winner, nil
}

func (c *Comparator) count(metric string, base map[string]string, key, value string) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCounter(metric, 1, withLabel(base, key, value))
}

func withLabel(base map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func outcomeLabel(w domain.Winner) string {
	switch w {
	case domain.WinnerFirst:
		return "first"
	case domain.WinnerSecond:
		return "second"
	default:
		return "invalid"
	}
}
