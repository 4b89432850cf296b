package main

import (
	"fmt"

	"github.com/kalambet/ollamaup/internal/assistant"
	"github.com/kalambet/ollamaup/internal/catalog"
	"github.com/kalambet/ollamaup/internal/config"
	"github.com/kalambet/ollamaup/internal/install"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/ollama"
	"github.com/kalambet/ollamaup/internal/panel"
	"github.com/kalambet/ollamaup/internal/provision"
	"github.com/kalambet/ollamaup/internal/status"
	"github.com/kalambet/ollamaup/internal/storage"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg         config.Config
	client      *ollama.Client
	registry    *status.Registry
	library     *catalog.Library
	orch        *install.Orchestrator
	resolver    *status.Resolver
	coordinator *provision.Coordinator
	panel       *panel.Panel
	store       *storage.Store // nil unless history is enabled
}

// newApp wires the components described by cfg. With history the run store
// is opened and must be released with close.
func newApp(cfg config.Config, withHistory bool) (*app, error) {
	client := ollama.New(cfg.Ollama.BaseURL)
	registry := status.NewRegistry(client, cfg.Status.RegistryTTL, nil)
	library := catalog.NewLibrary(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)

	launcher, err := install.NewShellLauncher(cfg.Install.Terminal)
	if err != nil {
		return nil, fmt.Errorf("install.terminal: %w", err)
	}
	orch := install.NewOrchestrator(client, launcher, registry, cfg.Install.Timeout, nil)

	probe := status.NewProbe(client, ollama.NewBinary(cfg.Ollama.Binary), orch)
	resolver := status.NewResolver(probe, registry, library, orch)

	coord := provision.NewCoordinator(resolver, orch, assistant.NewContinue(cfg.Assistant.ConfigPath), provision.Settings{
		Endpoint:      cfg.Ollama.BaseURL,
		ContextLength: cfg.Assistant.ContextLength,
		SystemMessage: cfg.Assistant.SystemMessage,
	})

	a := &app{
		cfg:         cfg,
		client:      client,
		registry:    registry,
		library:     library,
		orch:        orch,
		resolver:    resolver,
		coordinator: coord,
	}

	if withHistory {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		coord.SetHistory(store)
		a.store = store
	}

	a.panel = panel.New(resolver, orch, coord, panel.Options{
		Models:   models.Downloadable,
		Defaults: a.defaults(),
		Endpoint: cfg.Ollama.BaseURL,
		Debounce: cfg.Status.Debounce,
	})
	return a, nil
}

// defaults are the configured model selections.
func (a *app) defaults() provision.Selections {
	return provision.Selections{
		Chat:       a.cfg.Models.Chat,
		Tab:        a.cfg.Models.Tab,
		Embeddings: a.cfg.Models.Embeddings,
	}
}

// watched returns the models reported by status commands.
func (a *app) watched() []string {
	return append(append([]string{}, models.Downloadable...), a.defaults().Models()...)
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
