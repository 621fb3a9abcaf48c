package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Pipeline.MaxRepairAttempts)
	assert.Equal(t, 10000, cfg.Pipeline.ExecutionTimeoutMs)
	assert.Equal(t, "lenient", cfg.Pipeline.LeniencyMode)
	assert.Equal(t, 2, cfg.Oracle.TransportRetries)
	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, 10*time.Second, cfg.ExecutionTimeout())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxRepairAttempts)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
pipeline:
  max_repair_attempts: 3
  leniency_mode: strict
oracle:
  provider: gemini
  model: gemini-2.5-flash
  transport_retries: 4
logging:
  enabled: true
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pipeline.MaxRepairAttempts)
	assert.Equal(t, "strict", cfg.Pipeline.LeniencyMode)
	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, 4, cfg.Oracle.TransportRetries)
	assert.True(t, cfg.Logging.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, 10000, cfg.Pipeline.ExecutionTimeoutMs)
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("FORGE_API_KEY", "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Oracle.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.LeniencyMode = "sloppy"
	require.ErrorContains(t, cfg.Validate(), "leniency_mode")

	cfg = DefaultConfig()
	cfg.Pipeline.ExecutionTimeoutMs = 0
	require.ErrorContains(t, cfg.Validate(), "execution_timeout_ms")

	cfg = DefaultConfig()
	cfg.Pipeline.MaxRepairAttempts = -1
	require.ErrorContains(t, cfg.Validate(), "max_repair_attempts")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: ["), 0644))
	_, err := Load(path)
	require.ErrorContains(t, err, "failed to parse config")
}
