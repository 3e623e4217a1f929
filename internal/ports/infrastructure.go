package ports

import (
	"context"
	"time"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations should handle provider-specific details like authentication,
// request formatting, and response parsing.
type LLMClient interface {
	// Complete sends a completion request to the LLM provider.
	// It returns the generated text and any error encountered.
	// The implementation should handle rate limiting, retries, and timeouts.
	//
	// The options map allows flexibility for different providers without
	// changing the interface. Common options include:
	//   - "temperature": float64 (0.0-1.0)
	//   - "max_tokens": int
	//   - "response_format": "json_object"
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// JudgeGateway asks a judge model a question and extracts the choice it
// made from the free-text reply.
type JudgeGateway interface {
	// Complete returns the judge's free-text reply to prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// ExtractChoice asks which of candidateIDs the text chose. ok is false
	// when the answer does not resolve to a candidate; that is an outcome,
	// not an error. Only transport failures are returned as err.
	ExtractChoice(ctx context.Context, rawText, itemTypeName string, candidateIDs []int) (id int, ok bool, err error)
}

// JudgeProvider resolves an engine identifier to a judge.
// Implementations may cache judges so that every comparison against the
// same engine shares one client and its rate limiter.
type JudgeProvider interface {
	JudgeFor(ctx context.Context, engine string) (JudgeGateway, error)
}

// ComparisonCache is the durable store of judge verdicts.
// Implementations must be safe for concurrent use and write each row
// atomically.
type ComparisonCache interface {
	// Get returns the stored winner for key. found is false on a cache miss.
	Get(ctx context.Context, key domain.ComparisonKey) (winner domain.Winner, found bool, err error)

	// Put upserts rec. A row with the same key is overwritten.
	Put(ctx context.Context, rec domain.ComparisonRecord) error

	// Delete removes the row for key so the next comparison re-queries the
	// judge. Deleting a missing key is not an error.
	Delete(ctx context.Context, key domain.ComparisonKey) error

	// Stats aggregates rows for the position-bias diagnostic.
	Stats(ctx context.Context) (domain.CacheStats, error)
}

// LLMBatchQuery selects LLM description batches. Empty fields match
// everything.
type LLMBatchQuery struct {
	ItemType  string
	Title     string
	Engine    string
	PromptKey string
}

// BatchStore loads description batches. Callers must not assume any storage
// layout.
type BatchStore interface {
	// LoadHumanBatches returns the human batches of itemType. When
	// titleLike is not empty only batches whose title contains one of the
	// fragments, ignoring case, are returned.
	LoadHumanBatches(ctx context.Context, itemType string, titleLike []string) ([]domain.HumanBatch, error)

	// LoadLLMBatches returns the LLM batches matching q.
	LoadLLMBatches(ctx context.Context, q LLMBatchQuery) ([]domain.LLMBatch, error)
}

// PromptRegistry looks up comparison prompt configurations.
type PromptRegistry interface {
	// Get returns the configuration for (itemType, promptKey) or an error
	// wrapping ErrPromptConfigNotFound.
	Get(itemType, promptKey string) (domain.ComparisonPromptConfig, error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus, OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits/misses, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
