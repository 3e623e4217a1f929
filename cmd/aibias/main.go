// Command aibias runs pairwise comparisons of human and LLM written
// descriptions through a judge model and reports how often the LLM text won.
//
//	aibias compare -config run.yaml -engine gpt-4o -item-type product
//	aibias stats -cache context_cache/comparisons.sqlite
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/lauritowal/ai-ai-bias/infrastructure/batches"
	"github.com/lauritowal/ai-ai-bias/infrastructure/judge"
	"github.com/lauritowal/ai-ai-bias/infrastructure/llm"
	"github.com/lauritowal/ai-ai-bias/infrastructure/middleware"
	"github.com/lauritowal/ai-ai-bias/infrastructure/storage"
	"github.com/lauritowal/ai-ai-bias/internal/application"
	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/report"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "aibias: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: aibias <compare|stats> [flags]")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return flag.ErrHelp
	}
	switch args[0] {
	case "compare":
		return runCompare(ctx, args[1:], stdout, stderr)
	case "stats":
		return runStats(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// logFlags are shared by every subcommand.
type logFlags struct {
	format string
	level  string
}

func (l *logFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&l.format, "log-format", "text", "log format: text or json")
	fs.StringVar(&l.level, "log-level", "info", "log level: debug, info, warn or error")
}

// install puts a logger writing to w into ctx.
func (l *logFlags) install(ctx context.Context, w io.Writer) (context.Context, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.level)); err != nil {
		return ctx, fmt.Errorf("invalid -log-level %q: %w", l.level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch l.format {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return ctx, fmt.Errorf("invalid -log-format %q", l.format)
	}
	return clog.WithLogger(ctx, clog.New(h)), nil
}

func runCompare(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		logs        logFlags
		configPath  = fs.String("config", "", "YAML run configuration")
		envFile     = fs.String("env-file", ".env", "optional dotenv file with API keys")
		metricsAddr = fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
		titles      = fs.String("title", "", "comma-separated title fragments to restrict the run to")

		engine        = fs.String("engine", "", "judge engine")
		itemType      = fs.String("item-type", "", "item type to compare")
		promptKey     = fs.String("prompt-key", "", "comparison prompt key")
		descEngine    = fs.String("description-engine", "", "engine that generated the LLM descriptions")
		descPromptKey = fs.String("description-prompt-key", "", "generation prompt key of the LLM descriptions")
		limit         = fs.Int("limit", 0, "compare only the first N LLM descriptions per item")
		concurrency   = fs.Int("concurrency", 0, "items compared at once")
		dataDir       = fs.String("data-dir", "", "root of the description batch files")
		cacheDSN      = fs.String("cache", "", "comparison cache: SQLite path, postgres:// URL or memory")
		outputDir     = fs.String("output", "", "directory for the run summary JSON")
	)
	logs.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, err := logs.install(ctx, stderr)
	if err != nil {
		return err
	}
	log := clog.FromContext(ctx)

	cfg, err := application.LoadRunConfig(*configPath)
	if err != nil {
		return err
	}
	env, err := application.LoadEnv(ctx, *envFile)
	if err != nil {
		return err
	}
	cfg = env.Apply(cfg)

	// Flags win over the file and the environment, but only when given.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Engine = *engine
		case "item-type":
			cfg.ItemType = *itemType
		case "prompt-key":
			cfg.PromptKey = *promptKey
		case "description-engine":
			cfg.DescriptionEngine = *descEngine
		case "description-prompt-key":
			cfg.DescriptionPromptKey = *descPromptKey
		case "limit":
			cfg.DescriptionLimit = *limit
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "data-dir":
			cfg.DataDir = *dataDir
		case "cache":
			cfg.CacheDSN = *cacheDSN
		case "output":
			cfg.OutputDir = *outputDir
		case "title":
			cfg.TitleLike = splitList(*titles)
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	var extra []domain.ComparisonPromptConfig
	if cfg.PromptsFile != "" {
		if extra, err = application.LoadPromptFile(cfg.PromptsFile); err != nil {
			return err
		}
	}
	prompts, err := application.NewPromptRegistry(extra...)
	if err != nil {
		return err
	}
	prompt, err := prompts.Get(cfg.ItemType, cfg.PromptKey)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(reg)
	if *metricsAddr != "" {
		stop := serveMetrics(ctx, *metricsAddr, reg)
		defer stop()
	}

	cache, err := storage.Open(ctx, cfg.CacheDSN)
	if err != nil {
		return fmt.Errorf("failed to open comparison cache: %w", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Warnf("Failed to close comparison cache: %v", err)
		}
	}()

	budget := middleware.NewBudgetManager(
		middleware.Budget{MaxCalls: cfg.Budget.MaxCalls, MaxTokens: cfg.Budget.MaxTokens},
		middleware.NewOTelBudgetObserver(metrics),
	)
	if err := budget.Validate(); err != nil {
		return err
	}

	router := llm.NewRouter(llm.RouterConfig{
		OpenAIKey:    env.OpenAIKey,
		AnthropicKey: env.AnthropicKey,
		GoogleKey:    env.GoogleKey,
		GroqKey:      env.GroqKey,
		TogetherKey:  env.TogetherKey,
		LocalBaseURL: env.LocalBaseURL,
		LocalAPIKey:  env.LocalAPIKey,
		Timeout:      cfg.Timeout,
		Middleware:   judgeMiddleware(cfg, metrics, budget),
	})

	comparator, err := application.NewComparator(cache, judge.NewPool(router),
		application.WithRand(application.NewSeededRand(cfg.Seed)),
		application.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	batchComparator := application.NewBatchComparator(comparator, batches.NewFileStore(cfg.DataDir), metrics)

	res, err := batchComparator.CompareSavedBatches(ctx, cfg.Request(prompt))
	if err != nil {
		if llm.IsFatal(err) {
			log.Errorf("Run aborted, the judge cannot continue: %v", err)
		}
		return err
	}

	spent := budget.Usage()
	log.With("calls", spent.Calls, "tokens", spent.Tokens).
		With("duration", res.Duration.Round(time.Millisecond).String()).
		Info("Judge usage")

	summary := report.Summarize(res.Label, res.TalliesByTitle, res.Total, res.Skipped)
	if err := report.WriteTable(stdout, summary); err != nil {
		return err
	}
	if cfg.OutputDir != "" {
		path, err := writeSummary(cfg.OutputDir, res.RunID.String(), summary)
		if err != nil {
			return err
		}
		log.With("path", path).Info("Wrote run summary")
	}
	return nil
}

// judgeMiddleware builds the client chain of every judge engine. Retry sits
// outside the rate limiter and the budget so every attempt waits for a
// token and is charged; the timeout bounds a single attempt.
func judgeMiddleware(cfg application.RunConfig, metrics *middleware.PrometheusMetrics, budget *middleware.BudgetManager) func(string) []llm.Middleware {
	policy := llm.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		JitterPercent: cfg.Retry.JitterPercent,
		MaxElapsed:    cfg.Retry.MaxElapsed,
	}

	return func(engine string) []llm.Middleware {
		chain := []llm.Middleware{
			llm.TracingMiddleware(engine),
			llm.MetricsMiddleware(engine, metrics),
			llm.RetryMiddleware(policy),
		}
		if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
			chain = append(chain, llm.RateLimitMiddleware(rate.Limit(rl.RequestsPerSecond), max(rl.Burst, 1)))
		}
		chain = append(chain, budget.Middleware(engine))
		if cfg.Timeout > 0 {
			chain = append(chain, llm.TimeoutMiddleware(cfg.Timeout))
		}
		return chain
	}
}

func runStats(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		logs     logFlags
		cacheDSN = fs.String("cache", "", "comparison cache: SQLite path, postgres:// URL or memory")
		envFile  = fs.String("env-file", ".env", "optional dotenv file")
	)
	logs.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, err := logs.install(ctx, stderr)
	if err != nil {
		return err
	}

	env, err := application.LoadEnv(ctx, *envFile)
	if err != nil {
		return err
	}
	dsn := application.DefaultRunConfig().CacheDSN
	if env.CacheDSN != "" {
		dsn = env.CacheDSN
	}
	if *cacheDSN != "" {
		dsn = *cacheDSN
	}

	cache, err := storage.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("failed to open comparison cache: %w", err)
	}
	defer cache.Close()

	stats, err := cache.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d cached comparisons, %d invalid\n\n", stats.Total, stats.Invalid)
	return report.WriteCacheStats(stdout, stats)
}

func writeSummary(dir, runID string, s report.RunSummary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, runID+".json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create run summary: %w", err)
	}
	if err := report.WriteJSON(f, s); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.FromContext(ctx).Errorf("Metrics server failed: %v", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
