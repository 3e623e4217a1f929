package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lauritowal/ai-ai-bias/internal/domain"
	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRunConfig_Defaults(t *testing.T) {
	cfg, err := LoadRunConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRunConfig(), cfg)

	empty, err := LoadRunConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultRunConfig(), empty)
}

func TestLoadRunConfig_MissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	require.ErrorIs(t, err, ports.ErrConfigNotFound)
	var cfgErr *ports.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadRunConfig_OverridesDefaults(t *testing.T) {
	// Given a config setting a few fields
	path := writeConfig(t, `
engine: claude-3-5-sonnet-20240620
item_type: paper
prompt_key: better_paper_abstract
description_engine: groq-llama3-70b-8192
description_prompt_key: write_abstract
title_like: [attention, bert]
description_limit: 3
retry:
  max_attempts: 4
  base_delay: 500ms
budget:
  max_calls: 200
rate_limit:
  requests_per_second: 2.5
  burst: 5
timeout: 90s
`)

	// When it is loaded
	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	// Then set fields win and the rest keep their defaults
	assert.Equal(t, "claude-3-5-sonnet-20240620", cfg.Engine)
	assert.Equal(t, []string{"attention", "bert"}, cfg.TitleLike)
	assert.Equal(t, 3, cfg.DescriptionLimit)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, int64(200), cfg.Budget.MaxCalls)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultSeed, cfg.Seed)
}

func TestLoadRunConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "engien: gpt-4o\n"},
		{"negative limit", "description_limit: -1\n"},
		{"malformed engine", "engine: \"gpt 4o\"\n"},
		{"jitter out of range", "retry:\n  jitter_percent: 2\n"},
		{"empty data dir", "data_dir: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRunConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadRunConfig(writeConfig(t, "concurrency: 100\n"))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestRunConfig_Request(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.DescriptionPromptKey = "from_title"
	cfg.TitleLike = []string{"widget"}

	req := cfg.Request(productPrompt)

	assert.Equal(t, cfg.Engine, req.Engine)
	assert.Equal(t, productPrompt, req.Prompt)
	assert.Equal(t, "from_title", req.DescriptionPromptKey)
	assert.Equal(t, []string{"widget"}, req.TitleLike)
	assert.Equal(t, cfg.Concurrency, req.Concurrency)
}

func TestLoadEnv(t *testing.T) {
	// Given a .env file and one variable already set in the environment
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte(
		"OPENAI_API_KEY=sk-from-file\nAIBIAS_CACHE_DSN=memory\nAIBIAS_CONCURRENCY=7\n"), 0o644))
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	// Restored by t.Setenv cleanup after godotenv sets them.
	t.Setenv("AIBIAS_CACHE_DSN", "")
	require.NoError(t, os.Unsetenv("AIBIAS_CACHE_DSN"))
	t.Setenv("AIBIAS_CONCURRENCY", "")
	require.NoError(t, os.Unsetenv("AIBIAS_CONCURRENCY"))

	// When the environment is loaded
	env, err := LoadEnv(context.Background(), dotenv)
	require.NoError(t, err)

	// Then process variables win over the file
	assert.Equal(t, "sk-from-env", env.OpenAIKey)
	assert.Equal(t, "memory", env.CacheDSN)
	assert.Equal(t, 7, env.Concurrency)

	applied := env.Apply(DefaultRunConfig())
	assert.Equal(t, "memory", applied.CacheDSN)
	assert.Equal(t, 7, applied.Concurrency)
}

func TestLoadEnv_MissingDotenvIsFine(t *testing.T) {
	_, err := LoadEnv(context.Background(), filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
