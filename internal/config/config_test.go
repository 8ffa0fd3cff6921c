package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRouterConfig() RouterConfig {
	return RouterConfig{
		Providers: []ProviderConfig{
			{Name: "openai", Driver: "openai", Fallbacks: []string{"gpt-4o"}},
			{Name: "ollama", Driver: "ollama"},
		},
		Models: []ModelConfig{
			{ID: "gpt-4o", Provider: "openai", Tier: "premium", Enabled: true},
			{ID: "llama3.1", Provider: "ollama", Tier: "balanced", Enabled: true},
		},
		Retry: RetryConfig{JitterMin: 0.1, JitterMax: 0.3},
	}
}

func TestRouterConfigValidateOK(t *testing.T) {
	cfg := validRouterConfig()
	assert.NoError(t, cfg.Validate())
}

func TestRouterConfigValidateDuplicateProvider(t *testing.T) {
	cfg := validRouterConfig()
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "openai"})
	assert.Error(t, cfg.Validate())
}

func TestRouterConfigValidateDuplicateModel(t *testing.T) {
	cfg := validRouterConfig()
	cfg.Models = append(cfg.Models, ModelConfig{ID: "gpt-4o", Provider: "openai"})
	assert.Error(t, cfg.Validate())
}

func TestRouterConfigValidateUnknownProvider(t *testing.T) {
	cfg := validRouterConfig()
	cfg.Models = append(cfg.Models, ModelConfig{ID: "claude", Provider: "anthropic"})
	assert.Error(t, cfg.Validate())
}

func TestRouterConfigValidateDanglingFallback(t *testing.T) {
	cfg := validRouterConfig()
	cfg.Providers[1].Fallbacks = []string{"ghost-model"}
	assert.Error(t, cfg.Validate())
}

func TestRouterConfigValidateJitterRange(t *testing.T) {
	cfg := validRouterConfig()
	cfg.Retry.JitterMin = 0.5
	cfg.Retry.JitterMax = 0.2
	assert.Error(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Router: validRouterConfig()}
	cfg.Router.Retry = RetryConfig{}
	cfg.applyDefaults()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 120, cfg.Auth.TokenTTL)
	assert.Equal(t, 3, cfg.Router.Retry.MaxRetries)
	assert.Equal(t, 1.0, cfg.Router.Retry.BaseDelay)
	assert.Equal(t, 60.0, cfg.Router.Retry.MaxDelay)
	assert.Equal(t, 300, cfg.Router.AvailabilityTTL)
	assert.Equal(t, "balanced", cfg.Router.DefaultPriority)
	assert.Equal(t, 0.3, cfg.Router.Thresholds.FallbackThreshold)
	assert.Equal(t, 60, cfg.Router.Providers[0].Timeout)
	assert.Equal(t, 300*time.Second, cfg.Router.AvailabilityTTLDuration())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	yaml := `
server:
  port: 9090
  mode: test
router:
  fallback_enabled: true
  providers:
    - name: openai
      driver: openai
  models:
    - id: gpt-4o-mini
      provider: openai
      tier: fast
      enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load("test", path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Mode)
	assert.True(t, cfg.Router.FallbackEnabled)
	require.Len(t, cfg.Router.Models, 1)
	assert.Equal(t, "gpt-4o-mini", cfg.Router.Models[0].ID)
	// 缺省值已补齐
	assert.Equal(t, 3, cfg.Router.Retry.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("nonexistent", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "router",
		Password: "secret", DBName: "modelrouter", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=router password=secret dbname=modelrouter sslmode=disable",
		db.GetDSN(),
	)
}
