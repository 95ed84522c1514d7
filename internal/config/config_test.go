package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.LLM.Retry.Delay)
	assert.True(t, cfg.LLM.AllowDegraded)
	assert.Equal(t, 6, cfg.Context.Window)
	assert.Equal(t, 6, cfg.Context.TopK)
	assert.Equal(t, 12000, cfg.Context.SliceChars)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Cache.RedisAddr)
	assert.Empty(t, cfg.Queue.NATSURL)
	assert.True(t, cfg.Tutor.AllowDegraded)
	assert.Equal(t, 700, cfg.Tutor.MaxTokens)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
db:
  path: /tmp/lectio-test.db
log:
  level: debug
  format: console
llm:
  order: [openai, anthropic]
  retry:
    max_attempts: 5
    delay: 250ms
  openai:
    api_key: sk-file
cache:
  redis_addr: localhost:6379
  ttl: 1h
context:
  window: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/lectio-test.db", cfg.DB.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.LLM.Order)
	assert.Equal(t, 5, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.Retry.Delay)
	assert.Equal(t, "sk-file", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAI.Model, "unset fields keep defaults")
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 4, cfg.Context.Window)
	assert.Equal(t, 12000, cfg.Context.SliceChars)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "http:\n  addr: \":9000\"\nllm:\n  retry:\n    max_attempts: 5\n")

	t.Setenv("LECTIO_HTTP__ADDR", "127.0.0.1:7000")
	t.Setenv("LECTIO_LLM__RETRY__MAX_ATTEMPTS", "2")
	t.Setenv("LECTIO_LLM__ORDER", "gemini, openrouter")
	t.Setenv("LECTIO_LLM__ANTHROPIC__API_KEY", "sk-env")
	t.Setenv("LECTIO_QUEUE__NATS_URL", "nats://localhost:4222")
	t.Setenv("LECTIO_DB", "/tmp/ignored.db")
	t.Setenv("LECTIO_TUTOR__TEMPERATURE", "0.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.HTTP.Addr)
	assert.Equal(t, 2, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, []string{"gemini", "openrouter"}, cfg.LLM.Order)
	assert.Equal(t, "sk-env", cfg.LLM.Anthropic.APIKey)
	assert.Equal(t, "nats://localhost:4222", cfg.Queue.NATSURL)
	assert.InDelta(t, 0.1, cfg.Tutor.Temperature, 1e-9)
}

func TestLoad_StandardKeyFallback(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "g-key", cfg.LLM.Gemini.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")

	_, err = Load(writeConfig(t, "llm:\n  order: [skynet]\n"))
	assert.ErrorContains(t, err, "skynet")

	_, err = Load(writeConfig(t, "log:\n  level: shouting\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "tutor:\n  temperature: 2\n"))
	assert.ErrorContains(t, err, "tutor")

	_, err = Load(writeConfig(t, "llm: [unclosed"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	k, v := envKey("LECTIO_LLM__ANTHROPIC__API_KEY", "x")
	assert.Equal(t, "llm.anthropic.api_key", k)
	assert.Equal(t, "x", v)

	k, v = envKey("LECTIO_LLM__ORDER", "openai,,anthropic")
	assert.Equal(t, "llm.order", k)
	assert.Equal(t, []string{"openai", "anthropic"}, v)

	k, _ = envKey("LECTIO_DB", "/tmp/x.db")
	assert.Empty(t, k)
}
