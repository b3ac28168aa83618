package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Engine.ConfirmationTTL)
	assert.Equal(t, "sqlite", cfg.Patterns.Backend)
	assert.Equal(t, uint(3), cfg.Engine.RetryAttempts)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
engine:
  confirmation_ttl: 2m
patterns:
  backend: memory
actors:
  - id: assistant
    name: Assistant
    enabled_connectors: [telephony, email]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("LOGGER_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Engine.ConfirmationTTL)
	assert.Equal(t, "memory", cfg.Patterns.Backend)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 5, cfg.Perception.MemoryLimit)
	assert.Equal(t, KeyPatternCounters, cfg.Patterns.Key)
	require.Len(t, cfg.Actors, 1)
	assert.Equal(t, []string{"telephony", "email"}, cfg.Actors[0].EnabledConnectors)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	logger, err := NewLogger(LoggerConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestLoadConfig_ServerAddrs(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_GRPC_ADDR", ":6000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.GRPCAddr)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
}

func TestLoadConfig_EnvOverridesKeysWithoutDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_MODEL", "openai/gpt-4o-mini")
	t.Setenv("DATABASE_URL", "postgres://pipeline@localhost/pipeline")
	t.Setenv("ENGINE_CONNECTOR_ADDR", "connectors:50051")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("AUTH_ISSUER", "pipeline")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "postgres://pipeline@localhost/pipeline", cfg.Database.URL)
	assert.Equal(t, "connectors:50051", cfg.Engine.ConnectorAddr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, "pipeline", cfg.Auth.Issuer)
	assert.Equal(t, 30*time.Second, cfg.Auth.Leeway)
}
