package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OPSAI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "OPSAI_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OPSAI_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "OPSAI_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "OPSAI_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.timeout", typ: kDuration, env: "OPSAI_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "ollama.num_ctx", typ: kInt, env: "OPSAI_OLLAMA_NUM_CTX",
		apply:   func(cfg *Config, v any) { cfg.Ollama.NumCtx = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.NumCtx },
	},
	{
		key: "ollama.temperature", typ: kFloat, env: "OPSAI_OLLAMA_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.Temperature },
	},
	{
		key: "ollama.retries", typ: kInt, env: "OPSAI_OLLAMA_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Retries = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.Retries },
	},
	{
		key: "ollama.retry_backoff", typ: kDuration, env: "OPSAI_OLLAMA_RETRY_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Ollama.RetryBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.RetryBackoff },
	},
	{
		key: "agent.history_turns", typ: kInt, env: "OPSAI_AGENT_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Agent.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.HistoryTurns },
	},
	{
		key: "agent.context_tokens", typ: kInt, env: "OPSAI_AGENT_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Agent.ContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.ContextTokens },
	},
	{
		key: "agent.default_user", typ: kString, env: "OPSAI_AGENT_DEFAULT_USER",
		apply:   func(cfg *Config, v any) { cfg.Agent.DefaultUser = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.DefaultUser },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OPSAI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "watchdog.interval", typ: kDuration, env: "OPSAI_WATCHDOG_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Watchdog.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Watchdog.Interval },
	},
	{
		key: "watchdog.rules_file", typ: kString, env: "OPSAI_WATCHDOG_RULES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Watchdog.RulesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Watchdog.RulesFile },
	},
	{
		key: "watchdog.recipients", typ: kList, env: "OPSAI_WATCHDOG_RECIPIENTS",
		apply:   func(cfg *Config, v any) { cfg.Watchdog.Recipients = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Watchdog.Recipients, ",") },
	},
	{
		key: "watchdog.sweep_interval", typ: kDuration, env: "OPSAI_WATCHDOG_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Watchdog.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Watchdog.SweepInterval },
	},
	{
		key: "watchdog.sweep_batch", typ: kInt, env: "OPSAI_WATCHDOG_SWEEP_BATCH",
		apply:   func(cfg *Config, v any) { cfg.Watchdog.SweepBatch = v.(int) },
		extract: func(cfg Config) any { return cfg.Watchdog.SweepBatch },
	},
	{
		key: "log.level", typ: kString, env: "OPSAI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string into the Go type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", s.key, raw, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
