package ports

// Metric names shared by the code that records metrics and the collectors
// that export them.
const (
	// MetricLLMLatency is a histogram of judge request durations in seconds.
	// Labels: engine, provider, status.
	MetricLLMLatency = "llm_latency_seconds"

	// MetricLLMRequests counts judge requests. Labels: engine, provider, status.
	MetricLLMRequests = "llm_requests_total"

	// MetricLLMTokens counts tokens. Labels: engine, token_type.
	MetricLLMTokens = "llm_tokens_total"

	// MetricComparisons counts finished comparisons.
	// Labels: engine, prompt_key, outcome (first, second, invalid).
	MetricComparisons = "comparisons_total"

	// MetricCacheLookups counts comparison cache lookups.
	// Labels: engine, prompt_key, result (hit, miss).
	MetricCacheLookups = "comparison_cache_lookups_total"

	// MetricComparisonLatency is the operation name for comparison
	// durations. Labels: engine, prompt_key, source (cache, judge).
	MetricComparisonLatency = "comparison"

	// MetricBudgetRemaining is a gauge of the judge budget left.
	// Labels: limit_type (calls, tokens).
	MetricBudgetRemaining = "judge_budget_remaining"

	// MetricBudgetExceeded counts requests refused by the judge budget.
	// Labels: limit_type.
	MetricBudgetExceeded = "judge_budget_exceeded_total"

	// MetricBatchItems counts items handled by the batch comparator.
	// Labels: item_type, status (completed, skipped, failed).
	MetricBatchItems = "batch_items_total"
)
