package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OLLAMAUP_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OLLAMAUP_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.binary", typ: kString, env: "OLLAMAUP_OLLAMA_BINARY",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Binary = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Binary },
	},
	{
		key: "catalog.base_url", typ: kString, env: "OLLAMAUP_CATALOG_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Catalog.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.BaseURL },
	},
	{
		key: "catalog.timeout", typ: kDuration, env: "OLLAMAUP_CATALOG_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Catalog.Timeout },
	},
	{
		key: "status.registry_ttl", typ: kDuration, env: "OLLAMAUP_STATUS_REGISTRY_TTL",
		apply:   func(cfg *Config, v any) { cfg.Status.RegistryTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Status.RegistryTTL },
	},
	{
		key: "status.debounce", typ: kDuration, env: "OLLAMAUP_STATUS_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Status.Debounce = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Status.Debounce },
	},
	{
		key: "status.poll_interval", typ: kDuration, env: "OLLAMAUP_STATUS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Status.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Status.PollInterval },
	},
	{
		key: "install.timeout", typ: kDuration, env: "OLLAMAUP_INSTALL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Install.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Install.Timeout },
	},
	{
		key: "install.terminal", typ: kString, env: "OLLAMAUP_INSTALL_TERMINAL",
		apply:   func(cfg *Config, v any) { cfg.Install.Terminal = v.(string) },
		extract: func(cfg Config) any { return cfg.Install.Terminal },
	},
	{
		key: "assistant.config_path", typ: kString, env: "OLLAMAUP_ASSISTANT_CONFIG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Assistant.ConfigPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.ConfigPath },
	},
	{
		key: "assistant.context_length", typ: kInt, env: "OLLAMAUP_ASSISTANT_CONTEXT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Assistant.ContextLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.ContextLength },
	},
	{
		key: "assistant.system_message", typ: kString, env: "OLLAMAUP_ASSISTANT_SYSTEM_MESSAGE",
		apply:   func(cfg *Config, v any) { cfg.Assistant.SystemMessage = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.SystemMessage },
	},
	{
		key: "models.chat", typ: kString, env: "OLLAMAUP_MODELS_CHAT",
		apply:   func(cfg *Config, v any) { cfg.Models.Chat = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Chat },
	},
	{
		key: "models.tab", typ: kString, env: "OLLAMAUP_MODELS_TAB",
		apply:   func(cfg *Config, v any) { cfg.Models.Tab = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Tab },
	},
	{
		key: "models.embeddings", typ: kString, env: "OLLAMAUP_MODELS_EMBEDDINGS",
		apply:   func(cfg *Config, v any) { cfg.Models.Embeddings = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.Embeddings },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OLLAMAUP_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "OLLAMAUP_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: invalid duration %q: %w", s.key, v, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
