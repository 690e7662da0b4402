package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gensy-ai/creative-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Run("loads a full config", func(t *testing.T) {
		path := writeConfigFile(t, "config.yaml", `
server:
  port: "8080"
  allowed_origins: "*"
  environment: development
  log_level: debug
database:
  type: sqlite
  file_path: ":memory:"
redis:
  url: "redis://localhost:6379"
billing:
  refund_on_cancel: true
  welcome_bonus_credits: 50
providers:
  Veo:
    kind: vertex
    project: my-project
    location: us-central1
  bfl:
    kind: bfl
    base_url: "https://api.bfl.example.com"
    api_key: secret
`)

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, models.SQLite, cfg.Database.Type)
		assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
		assert.True(t, cfg.RefundOnCancel())
		assert.Equal(t, int64(50), cfg.Billing.WelcomeBonusCredits)

		// Provider keys are case-insensitive
		veo, ok := cfg.GetProviderConfig("VEO")
		require.True(t, ok)
		assert.Equal(t, "vertex", veo.Kind)
		assert.Equal(t, "my-project", veo.Project)
	})

	t.Run("substitutes environment variables", func(t *testing.T) {
		t.Setenv("TEST_LEDGER_PORT", "9090")
		os.Unsetenv("TEST_LEDGER_ORIGINS")

		path := writeConfigFile(t, "config.yaml", `
server:
  port: "${TEST_LEDGER_PORT}"
  allowed_origins: "${TEST_LEDGER_ORIGINS:-http://localhost:3000}"
`)

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, "http://localhost:3000", cfg.Server.AllowedOrigins)
	})

	t.Run("unset variable without default becomes empty", func(t *testing.T) {
		os.Unsetenv("TEST_LEDGER_MISSING")

		path := writeConfigFile(t, "config.yaml", `
server:
  port: "${TEST_LEDGER_MISSING}"
`)

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.Server.Port)
	})

	t.Run("rejects non-yaml extensions", func(t *testing.T) {
		path := writeConfigFile(t, "config.json", `{}`)

		_, err := LoadFromFile(path)
		assert.ErrorContains(t, err, "only .yaml and .yml")
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		_, err := LoadFromFile("../../etc/config.yaml")
		assert.ErrorContains(t, err, "path traversal")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("complete config passes", func(t *testing.T) {
		cfg := &Config{
			Server:   models.ServerConfig{Port: "8080", AllowedOrigins: "*"},
			Database: &models.DatabaseConfig{Type: models.SQLite},
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("reports all missing fields", func(t *testing.T) {
		cfg := &Config{}
		err := cfg.Validate()
		require.Error(t, err)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"server.port", "server.allowed_origins", "database"}, verr.MissingFields)
	})
}

func TestConfigHelpers(t *testing.T) {
	cfg := &Config{Server: models.ServerConfig{Environment: "production", LogLevel: "INFO"}}

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "info", cfg.GetNormalizedLogLevel())
	assert.False(t, cfg.RefundOnCancel())

	_, ok := cfg.GetProviderConfig("unknown")
	assert.False(t, ok)
}
