// Package config loads opsai settings from defaults, a JSON file, a .env
// file and OPSAI_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/opsai/internal/ollama"
)

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Agent    AgentConfig
	Storage  StorageConfig
	Watchdog WatchdogConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken is the bearer token of the /ai routes. It is secret: only
	// OPSAI_API_TOKEN or the token file under the data dir set it.
	APIToken string
}

type OllamaConfig struct {
	BaseURL      string
	Model        string
	EmbedModel   string
	Timeout      time.Duration
	NumCtx       int
	Temperature  float64
	Retries      int
	RetryBackoff time.Duration
}

type AgentConfig struct {
	HistoryTurns  int
	ContextTokens int
	DefaultUser   string
}

type StorageConfig struct {
	DataDir string
}

type WatchdogConfig struct {
	Interval      time.Duration
	RulesFile     string
	Recipients    []string
	SweepInterval time.Duration
	SweepBatch    int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:      ollama.DefaultBaseURL,
			Model:        ollama.DefaultModel,
			EmbedModel:   ollama.DefaultEmbedModel,
			Timeout:      60 * time.Second,
			NumCtx:       1024,
			Temperature:  0.7,
			Retries:      2,
			RetryBackoff: time.Second,
		},
		Agent: AgentConfig{
			HistoryTurns:  10,
			ContextTokens: 1500,
			DefaultUser:   "admin",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Watchdog: WatchdogConfig{
			Interval:      time.Hour,
			SweepInterval: time.Minute,
			SweepBatch:    5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file and the environment.
//
// A .env file in the working directory is read first; its entries act as
// environment variables but never replace variables already set. The JSON
// file lives at $XDG_CONFIG_HOME/opsai/config.json. Environment variables
// (OPSAI_*) override file values.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Watchdog.RulesFile == "" {
		cfg.Watchdog.RulesFile = filepath.Join(cfg.Storage.DataDir, "watchdog.yaml")
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return cfg, nil
}

// OllamaSettings converts the Ollama section into client settings.
func (c Config) OllamaSettings() ollama.Settings {
	return ollama.Settings{
		BaseURL:      c.Ollama.BaseURL,
		Model:        c.Ollama.Model,
		EmbedModel:   c.Ollama.EmbedModel,
		Timeout:      c.Ollama.Timeout,
		NumCtx:       c.Ollama.NumCtx,
		Temperature:  c.Ollama.Temperature,
		Retries:      c.Ollama.Retries,
		RetryBackoff: c.Ollama.RetryBackoff,
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "opsai-data"
		}
	}
	return filepath.Join(dir, "opsai")
}
