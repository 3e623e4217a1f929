package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// RunConfig is the YAML configuration of one comparison run.
type RunConfig struct {
	// Engine is the judge engine, e.g. "gpt-4o", "claude-3-5-sonnet-20240620"
	// or "groq-llama3-70b-8192".
	Engine string `yaml:"engine" validate:"required,engine"`

	// ItemType and PromptKey select the comparison prompt.
	ItemType  string `yaml:"item_type" validate:"required"`
	PromptKey string `yaml:"prompt_key" validate:"required"`

	// DescriptionEngine and DescriptionPromptKey select which generated
	// descriptions are compared against the human ones.
	DescriptionEngine    string `yaml:"description_engine" validate:"required,engine"`
	DescriptionPromptKey string `yaml:"description_prompt_key"`

	TitleLike        []string `yaml:"title_like" validate:"omitempty,dive,min=1"`
	DescriptionLimit int      `yaml:"description_limit" validate:"gte=0"`
	Concurrency      int      `yaml:"concurrency" validate:"gte=0,lte=64"`

	// DataDir is the root of the batch files.
	DataDir string `yaml:"data_dir" validate:"required"`

	// CacheDSN selects the comparison cache backend: a SQLite path,
	// "sqlite://<path>", "postgres://..." or "memory".
	CacheDSN string `yaml:"cache_dsn" validate:"required"`

	// Seed seeds the display ID source.
	Seed string `yaml:"seed" validate:"required"`

	// PromptsFile optionally adds comparison prompts from YAML.
	PromptsFile string `yaml:"prompts_file"`

	// OutputDir receives the run summary JSON. Empty disables the file.
	OutputDir string `yaml:"output_dir"`

	Retry     RetryConfig     `yaml:"retry"`
	Budget    BudgetConfig    `yaml:"budget"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Timeout bounds one judge request attempt.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RetryConfig controls retries of transient judge failures.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" validate:"gte=0,lte=20"`
	BaseDelay     time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay      time.Duration `yaml:"max_delay" validate:"gte=0"`
	JitterPercent float64       `yaml:"jitter_percent" validate:"gte=0,lte=1"`
	MaxElapsed    time.Duration `yaml:"max_elapsed" validate:"gte=0"`
}

// BudgetConfig caps judge usage for the whole run. Zero means unlimited.
type BudgetConfig struct {
	MaxCalls  int64 `yaml:"max_calls" validate:"gte=0"`
	MaxTokens int64 `yaml:"max_tokens" validate:"gte=0"`
}

// RateLimitConfig throttles requests per engine. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// DefaultRunConfig returns the configuration used when a field is not set.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Engine:            "gpt-4o",
		ItemType:          "product",
		PromptKey:         "marketplace_recommendation_force_decision",
		DescriptionEngine: "gpt-4o",
		Concurrency:       DefaultConcurrency,
		DataDir:           "data",
		CacheDSN:          "context_cache/comparisons.sqlite",
		Seed:              DefaultSeed,
		OutputDir:         "output",
		Retry: RetryConfig{
			MaxAttempts:   10,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			JitterPercent: 0.2,
			MaxElapsed:    2 * time.Minute,
		},
		Timeout: 60 * time.Second,
	}
}

// LoadRunConfig reads a YAML run configuration over DefaultRunConfig and
// validates it. An empty path returns the validated defaults.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if errors.Is(err, fs.ErrNotExist) {
			return RunConfig{}, ports.NewConfigError(path, ports.ErrConfigNotFound)
		}
		if err != nil {
			return RunConfig{}, fmt.Errorf("failed to read run config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		// An empty file decodes to io.EOF and keeps the defaults.
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return RunConfig{}, fmt.Errorf("failed to parse run config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// engineFormat matches engine identifiers as providers spell model names.
var engineFormat = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]*$`)

func validateEngine(fl validator.FieldLevel) bool {
	return engineFormat.MatchString(fl.Field().String())
}

func newConfigValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation("engine", validateEngine); err != nil {
		return nil, fmt.Errorf("failed to register engine validator: %w", err)
	}
	return v, nil
}

// Validate checks field constraints.
func (c RunConfig) Validate() error {
	v, err := newConfigValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		ve := domain.NewValidationError("run config")
		for _, fe := range verrs {
			ve.AddError(fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return ve
	}
	return nil
}

// Request builds the batch request for the resolved prompt.
func (c RunConfig) Request(prompt domain.ComparisonPromptConfig) BatchRequest {
	return BatchRequest{
		Engine:               c.Engine,
		Prompt:               prompt,
		ItemType:             c.ItemType,
		DescriptionEngine:    c.DescriptionEngine,
		DescriptionPromptKey: c.DescriptionPromptKey,
		TitleLike:            c.TitleLike,
		DescriptionLimit:     c.DescriptionLimit,
		Concurrency:          c.Concurrency,
	}
}

// EnvConfig holds credentials and overrides read from the environment.
type EnvConfig struct {
	OpenAIKey    string `env:"OPENAI_API_KEY"`
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`
	GoogleKey    string `env:"GOOGLE_API_KEY"`
	GroqKey      string `env:"GROQ_API_KEY"`
	TogetherKey  string `env:"TOGETHER_API_KEY"`

	LocalBaseURL string `env:"LOCAL_LLM_API_BASE"`
	LocalAPIKey  string `env:"LOCAL_LLM_API_KEY"`

	CacheDSN    string `env:"AIBIAS_CACHE_DSN"`
	Concurrency int    `env:"AIBIAS_CONCURRENCY"`
}

// LoadEnv loads dotenvPath if it exists and then reads EnvConfig from the
// process environment. Variables already set win over the file.
func LoadEnv(ctx context.Context, dotenvPath string) (EnvConfig, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return EnvConfig{}, ports.NewConfigError(dotenvPath, err)
		}
	}

	var env EnvConfig
	if err := envconfig.Process(ctx, &env); err != nil {
		return EnvConfig{}, ports.NewConfigError("env", err)
	}
	return env, nil
}

// Apply overrides run config fields that are set in the environment.
func (e EnvConfig) Apply(c RunConfig) RunConfig {
	if e.CacheDSN != "" {
		c.CacheDSN = e.CacheDSN
	}
	if e.Concurrency > 0 {
		c.Concurrency = e.Concurrency
	}
	return c
}
