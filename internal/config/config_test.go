package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every OPSAI_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestDefaults verifies all default values are applied when no file exists.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")))
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "gemma3:4b", cfg.Ollama.Model)
	assert.Equal(t, "nomic-embed-text", cfg.Ollama.EmbedModel)
	assert.Equal(t, 60*time.Second, cfg.Ollama.Timeout)
	assert.Equal(t, 1024, cfg.Ollama.NumCtx)
	assert.InDelta(t, 0.7, cfg.Ollama.Temperature, 1e-9)
	assert.Equal(t, 2, cfg.Ollama.Retries)
	assert.Equal(t, time.Second, cfg.Ollama.RetryBackoff)
	assert.Equal(t, 10, cfg.Agent.HistoryTurns)
	assert.Equal(t, 1500, cfg.Agent.ContextTokens)
	assert.Equal(t, "admin", cfg.Agent.DefaultUser)
	assert.Equal(t, "/tmp/xdg-data/opsai", cfg.Storage.DataDir)
	assert.Equal(t, time.Hour, cfg.Watchdog.Interval)
	assert.Equal(t, "/tmp/xdg-data/opsai/watchdog.yaml", cfg.Watchdog.RulesFile)
	assert.Equal(t, time.Minute, cfg.Watchdog.SweepInterval)
	assert.Equal(t, 5, cfg.Watchdog.SweepBatch)
	assert.Equal(t, "info", cfg.Log.Level)
}

// TestFileBackend verifies values of every type are read from the JSON file.
func TestFileBackend(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "ollama.model": "llama3.2:3b",
  "ollama.timeout": "90s",
  "ollama.temperature": 0.2,
  "storage.data_dir": "/srv/opsai",
  "watchdog.recipients": ["admin", "luis"],
  "log.level": "DEBUG"
}`)

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "llama3.2:3b", cfg.Ollama.Model)
	assert.Equal(t, 90*time.Second, cfg.Ollama.Timeout)
	assert.InDelta(t, 0.2, cfg.Ollama.Temperature, 1e-9)
	assert.Equal(t, "/srv/opsai", cfg.Storage.DataDir)
	assert.Equal(t, "/srv/opsai/watchdog.yaml", cfg.Watchdog.RulesFile)
	assert.Equal(t, []string{"admin", "luis"}, cfg.Watchdog.Recipients)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestFileBackend_InvalidValue(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"ollama.timeout": "soon"}`)

	_, err := loadWith(newFileBackend(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama.timeout")
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 5000, "ollama.model": "file-model"}`)

	t.Setenv("OPSAI_SERVER_PORT", "6000")
	t.Setenv("OPSAI_OLLAMA_MODEL", "env-model")
	t.Setenv("OPSAI_WATCHDOG_RECIPIENTS", "ana, luis ,")
	t.Setenv("OPSAI_API_TOKEN", "env-token")

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "env-model", cfg.Ollama.Model)
	assert.Equal(t, []string{"ana", "luis"}, cfg.Watchdog.Recipients)
	assert.Equal(t, "env-token", cfg.Server.APIToken)
}

func TestEnvOverride_UnparsableKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPSAI_OLLAMA_NUM_CTX", "many")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Ollama.NumCtx)
}

func TestSecretIgnoredInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.api_token": "from-file"}`)

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.APIToken)
}

// TestLoad_DotEnv verifies a .env file in the working directory is honored
// without overriding variables that are already set.
func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("OPSAI_OLLAMA_MODEL=dotenv-model\nOPSAI_SERVER_PORT=7000\n"), 0o644))
	t.Chdir(dir)

	// godotenv only fills unset variables.
	os.Unsetenv("OPSAI_OLLAMA_MODEL")
	t.Setenv("OPSAI_SERVER_PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dotenv-model", cfg.Ollama.Model)
	assert.Equal(t, 7100, cfg.Server.Port)
}

func TestAPIToken_GeneratedOnce(t *testing.T) {
	cfg := defaults()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")

	first, err := APIToken(cfg)
	require.NoError(t, err)
	assert.Len(t, first, 64)

	info, err := os.Stat(filepath.Join(cfg.Storage.DataDir, tokenFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := APIToken(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAPIToken_EnvWins(t *testing.T) {
	cfg := defaults()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Server.APIToken = "explicit"

	tok, err := APIToken(cfg)
	require.NoError(t, err)
	assert.Equal(t, "explicit", tok)
	assert.NoFileExists(t, filepath.Join(cfg.Storage.DataDir, tokenFileName))
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "opsai", "config.json")
	b := newFileBackend(path)

	require.NoError(t, setKey(b, "server.port", "4200"))
	require.NoError(t, setKey(b, "watchdog.interval", "30m"))
	require.NoError(t, setKey(b, "watchdog.recipients", "admin,ana"))

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Equal(t, 4200, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Watchdog.Interval)
	assert.Equal(t, []string{"admin", "ana"}, cfg.Watchdog.Recipients)
}

func TestUnsetKey_RestoresDefault(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, setKey(newFileBackend(path), "ollama.model", "llama3.2:3b"))
	require.NoError(t, unsetKey(newFileBackend(path), "ollama.model"))
	require.NoError(t, unsetKey(newFileBackend(path), "ollama.model"))

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Equal(t, "gemma3:4b", cfg.Ollama.Model)

	assert.Error(t, unsetKey(newFileBackend(path), "server.api_token"))
}

func TestFileBackend_CorruptFileFallsBack(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": `)

	cfg, err := loadWith(newFileBackend(path))
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
}

func TestFileBackend_NonIntegerPort(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 41.5}`)

	_, err := loadWith(newFileBackend(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestSetKey_Errors(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	tests := []struct {
		key, value, want string
	}{
		{"server.api_token", "x", "OPSAI_API_TOKEN"},
		{"server.port", "abc", "invalid value"},
		{"ollama.retry_backoff", "1 sec", "invalid value"},
		{"nope.key", "1", "unknown config key"},
	}
	for _, tt := range tests {
		err := setKey(b, tt.key, tt.value)
		if assert.Error(t, err, tt.key) {
			assert.Contains(t, err.Error(), tt.want)
		}
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "s3cret"
	cfg.Watchdog.Recipients = []string{"admin", "ana"}

	var keys []string
	for _, k := range ShowAll(cfg) {
		keys = append(keys, k.Key)
		assert.NotEqual(t, "s3cret", k.Value)
		if k.Key == "watchdog.recipients" {
			assert.Equal(t, "admin,ana", k.Value)
		}
	}
	assert.Equal(t, ValidKeys(), keys)
	assert.NotContains(t, strings.Join(keys, " "), "api_token")
}
