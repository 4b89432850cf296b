// Package assistant writes the selected models into the Continue code
// assistant configuration.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrConfigNotFound is returned when the assistant config file does not exist.
var ErrConfigNotFound = errors.New("assistant config not found")

// DefaultContextLength is used when a Request leaves ContextLength unset.
const DefaultContextLength = 8192

// DefaultSystemMessage is used when a Request leaves SystemMessage unset.
const DefaultSystemMessage = "You are a helpful AI assistant. You are a cautious assistant. You carefully follow instructions. You are helpful and harmless and you follow ethical guidelines and promote positive behavior."

// Request carries the provisioned models into the assistant configuration.
// Empty model fields leave the corresponding slot untouched.
type Request struct {
	ChatModel       string `json:"chatModel,omitempty"`
	TabModel        string `json:"tabModel,omitempty"`
	EmbeddingsModel string `json:"embeddingsModel,omitempty"`
	Provider        string `json:"provider"`
	Endpoint        string `json:"endpoint"`
	ContextLength   int    `json:"contextLength"`
	SystemMessage   string `json:"systemMessage"`
}

// Continue merges Requests into a Continue config.json.
type Continue struct {
	path   string
	logger *slog.Logger
}

// DefaultConfigPath returns ~/.continue/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".continue", "config.json")
	}
	return filepath.Join(home, ".continue", "config.json")
}

// NewContinue creates a writer for the config file at path.
func NewContinue(path string) *Continue {
	if path == "" {
		path = DefaultConfigPath()
	}
	return &Continue{path: path, logger: slog.Default()}
}

// Path returns the config file location.
func (c *Continue) Path() string {
	return c.path
}

// Configure merges req into the config file, writing it only when something
// changed.
func (c *Continue) Configure(_ context.Context, req Request) error {
	cfg, err := c.read()
	if err != nil {
		return err
	}
	if !Merge(cfg, req) {
		c.logger.Debug("assistant config already up to date", "path", c.path)
		return nil
	}
	if err := c.write(cfg); err != nil {
		return err
	}
	c.logger.Info("assistant config updated", "path", c.path, "chat", req.ChatModel, "tab", req.TabModel, "embeddings", req.EmbeddingsModel)
	return nil
}

func (c *Continue) read() (map[string]any, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, c.path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.path, err)
	}
	cfg := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.path, err)
	}
	return cfg, nil
}

func (c *Continue) write(cfg map[string]any) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding assistant config: %w", err)
	}
	data = append(data, '\n')

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", c.path, err)
	}
	return nil
}

// Merge applies req to cfg and reports whether cfg changed.
//
// The chat model replaces the model and title of an existing entry with the
// same provider and apiBase, or is appended when none matches. The tab
// autocomplete model and embeddings provider are replaced when they differ.
func Merge(cfg map[string]any, req Request) bool {
	changed := false

	if req.ChatModel != "" {
		list, _ := cfg["models"].([]any)
		var existing map[string]any
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if str(m["provider"]) == req.Provider && str(m["apiBase"]) == req.Endpoint {
				existing = m
				break
			}
		}

		if existing != nil {
			if str(existing["model"]) != req.ChatModel || str(existing["title"]) != req.ChatModel {
				existing["model"] = req.ChatModel
				existing["title"] = req.ChatModel
				changed = true
			}
		} else {
			contextLength := req.ContextLength
			if contextLength <= 0 {
				contextLength = DefaultContextLength
			}
			systemMessage := req.SystemMessage
			if systemMessage == "" {
				systemMessage = DefaultSystemMessage
			}
			list = append(list, map[string]any{
				"title":             req.ChatModel,
				"model":             req.ChatModel,
				"completionOptions": map[string]any{},
				"apiBase":           req.Endpoint,
				"provider":          req.Provider,
				"contextLength":     contextLength,
				"systemMessage":     systemMessage,
			})
			changed = true
		}
		cfg["models"] = list
	}

	if req.TabModel != "" {
		want := map[string]any{
			"title":    req.TabModel,
			"model":    req.TabModel,
			"provider": req.Provider,
		}
		if !sameFields(cfg["tabAutocompleteModel"], want) {
			cfg["tabAutocompleteModel"] = want
			changed = true
		}
	}

	if req.EmbeddingsModel != "" {
		want := map[string]any{
			"provider": "ollama",
			"model":    req.EmbeddingsModel,
		}
		if !sameFields(cfg["embeddingsProvider"], want) {
			cfg["embeddingsProvider"] = want
			changed = true
		}
	}

	return changed
}

// sameFields reports whether current is an object holding exactly the
// string fields of want.
func sameFields(current any, want map[string]any) bool {
	m, ok := current.(map[string]any)
	if !ok || len(m) != len(want) {
		return false
	}
	for k, v := range want {
		if str(m[k]) != v {
			return false
		}
	}
	return true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
