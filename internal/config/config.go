package config

import (
	"fmt"
	"time"

	"github.com/kalambet/ollamaup/internal/assistant"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/ollama"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Catalog   CatalogConfig
	Status    StatusConfig
	Install   InstallConfig
	Assistant AssistantConfig
	Models    ModelsConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL string
	Binary  string
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
}

type StatusConfig struct {
	RegistryTTL  time.Duration
	Debounce     time.Duration
	PollInterval time.Duration
}

type InstallConfig struct {
	// Timeout bounds how long a dispatched server install reports installing.
	Timeout time.Duration
	// Terminal is a shell-words prefix used to open install commands in a
	// terminal window. Empty runs them detached.
	Terminal string
}

type AssistantConfig struct {
	ConfigPath    string
	ContextLength int
	SystemMessage string
}

// ModelsConfig holds the default model selection per assistant slot.
type ModelsConfig struct {
	Chat       string
	Tab        string
	Embeddings string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// DefaultSystemMessage is the system prompt written for the chat model.
const DefaultSystemMessage = "You are Granite Chat, an AI language model developed by IBM. You are a cautious assistant. You carefully follow instructions. You are helpful and harmless and you follow ethical guidelines and promote positive behavior. You always respond to greetings (for example, hi, hello, g'day, morning, afternoon, evening, night, what's up, nice to meet you, sup, etc) with \"Hello! I am Granite Chat, created by IBM. How can I help you today?\". Please do not say anything else and do not start a conversation."

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL: ollama.DefaultBaseURL,
			Binary:  "ollama",
		},
		Catalog: CatalogConfig{
			BaseURL: "https://ollama.com/library",
			Timeout: 3 * time.Second,
		},
		Status: StatusConfig{
			RegistryTTL:  100 * time.Millisecond,
			Debounce:     50 * time.Millisecond,
			PollInterval: 1500 * time.Millisecond,
		},
		Install: InstallConfig{
			Timeout: 15 * time.Minute,
		},
		Assistant: AssistantConfig{
			ConfigPath:    assistant.DefaultConfigPath(),
			ContextLength: 20000,
			SystemMessage: DefaultSystemMessage,
		},
		Models: ModelsConfig{
			Chat:       "granite-code:8b",
			Tab:        "granite-code:3b",
			Embeddings: models.Canonical("nomic-embed-text"),
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at FilePath() and applies
// environment overrides (OLLAMAUP_*).
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Ollama.BaseURL == "" {
		return fmt.Errorf("invalid config: ollama.base_url is empty")
	}
	if c.Assistant.ContextLength <= 0 {
		return fmt.Errorf("invalid config: assistant.context_length must be positive")
	}
	for key, d := range map[string]time.Duration{
		"catalog.timeout":      c.Catalog.Timeout,
		"status.registry_ttl":  c.Status.RegistryTTL,
		"status.poll_interval": c.Status.PollInterval,
		"install.timeout":      c.Install.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", key)
		}
	}
	if c.Status.Debounce < 0 {
		return fmt.Errorf("invalid config: status.debounce must not be negative")
	}
	return nil
}
