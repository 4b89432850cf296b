// Package provision sequences model installs for a setup request and hands
// the result to the assistant configuration writer.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ollamaup/internal/assistant"
	"github.com/kalambet/ollamaup/internal/install"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/storage"
)

// Defaults for the assistant configuration request.
const (
	DefaultProvider      = "ollama"
	DefaultContextLength = 20000
	DefaultSystemMessage = "You are Granite Chat, an AI language model developed by IBM. You are a cautious assistant. You carefully follow instructions. You are helpful and harmless and you follow ethical guidelines and promote positive behavior. You always respond to greetings (for example, hi, hello, g'day, morning, afternoon, evening, night, what's up, nice to meet you, sup, etc) with \"Hello! I am Granite Chat, created by IBM. How can I help you today?\". Please do not say anything else and do not start a conversation."
)

// Selections are the models requested per assistant slot. An empty slot
// leaves the current configuration for it untouched.
type Selections struct {
	Chat       string `json:"chatModelId,omitempty"`
	Tab        string `json:"tabModelId,omitempty"`
	Embeddings string `json:"embeddingsModelId,omitempty"`
}

// Models returns the distinct selected models in chat, tab, embeddings order,
// canonicalized.
func (s Selections) Models() []string {
	var out []string
	seen := make(map[string]bool, 3)
	for _, name := range []string{s.Chat, s.Tab, s.Embeddings} {
		key := models.Canonical(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// StatusSource classifies a model.
type StatusSource interface {
	ModelStatus(ctx context.Context, name string) models.ModelStatus
}

// Installer pulls a model.
type Installer interface {
	InstallModel(ctx context.Context, name string, onProgress func(models.ProgressEvent)) error
}

// ConfigWriter receives the final selections.
type ConfigWriter interface {
	Configure(ctx context.Context, req assistant.Request) error
}

// History records provisioning runs.
type History interface {
	CreateRun(r storage.Run) error
	RecordPull(id, model string, at time.Time) error
	FinishRun(id, outcome, failedModel, errMsg string, at time.Time) error
}

// Settings are the fixed parts of the assistant configuration request.
type Settings struct {
	Provider      string
	Endpoint      string
	ContextLength int
	SystemMessage string
}

// ModelError reports the model whose install aborted a run.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("installing %s: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Outcome is the user-facing result of a run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// OutcomeOf maps a Provision error to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, install.ErrCancelled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// FailedModel returns the model named by a *ModelError in err's chain.
func FailedModel(err error) string {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Model
	}
	return ""
}

// Coordinator runs provisioning requests. Models are installed strictly one
// after another.
type Coordinator struct {
	status    StatusSource
	installer Installer
	writer    ConfigWriter
	history   History
	settings  Settings
	now       func() time.Time
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator. writer may be nil to skip the
// assistant hand-off.
func NewCoordinator(status StatusSource, installer Installer, writer ConfigWriter, settings Settings) *Coordinator {
	if settings.Provider == "" {
		settings.Provider = DefaultProvider
	}
	if settings.ContextLength <= 0 {
		settings.ContextLength = DefaultContextLength
	}
	if settings.SystemMessage == "" {
		settings.SystemMessage = DefaultSystemMessage
	}
	return &Coordinator{
		status:    status,
		installer: installer,
		writer:    writer,
		settings:  settings,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// SetHistory enables run recording.
func (c *Coordinator) SetHistory(h History) {
	c.history = h
}

// Provision installs every selected model that is not already installed and
// then configures the assistant. It returns install.ErrCancelled when ctx is
// cancelled during a pull and a *ModelError when a pull fails; either aborts
// the remaining models.
func (c *Coordinator) Provision(ctx context.Context, sel Selections, onProgress func(models.ProgressEvent)) error {
	names := sel.Models()
	runID := uuid.New().String()
	c.startRun(runID, sel, names)

	err := c.run(ctx, runID, sel, names, onProgress)

	outcome := OutcomeOf(err)
	switch outcome {
	case OutcomeSuccess:
		c.logger.Info("provisioning complete", "run", runID, "models", names)
	case OutcomeCancelled:
		c.logger.Info("provisioning cancelled", "run", runID)
	default:
		c.logger.Error("provisioning failed", "run", runID, "error", err)
	}
	c.finishRun(runID, outcome, err)
	return err
}

func (c *Coordinator) run(ctx context.Context, runID string, sel Selections, names []string, onProgress func(models.ProgressEvent)) error {
	for _, name := range names {
		if ctx.Err() != nil {
			return install.ErrCancelled
		}

		st := c.status.ModelStatus(ctx, name)
		if st == models.ModelInstalled {
			c.logger.Debug("model already installed", "model", name)
			continue
		}

		c.logger.Info("installing model", "model", name, "status", st)
		if err := c.installer.InstallModel(ctx, name, onProgress); err != nil {
			if errors.Is(err, install.ErrCancelled) {
				return install.ErrCancelled
			}
			return &ModelError{Model: name, Err: err}
		}
		if c.history != nil {
			if err := c.history.RecordPull(runID, name, c.now()); err != nil {
				c.logger.Warn("recording pull failed", "run", runID, "model", name, "error", err)
			}
		}
	}

	if c.writer == nil {
		return nil
	}
	req := assistant.Request{
		ChatModel:       models.Canonical(sel.Chat),
		TabModel:        models.Canonical(sel.Tab),
		EmbeddingsModel: models.Canonical(sel.Embeddings),
		Provider:        c.settings.Provider,
		Endpoint:        c.settings.Endpoint,
		ContextLength:   c.settings.ContextLength,
		SystemMessage:   c.settings.SystemMessage,
	}
	if err := c.writer.Configure(ctx, req); err != nil {
		return fmt.Errorf("configuring assistant: %w", err)
	}
	return nil
}

func (c *Coordinator) startRun(id string, sel Selections, names []string) {
	if c.history == nil {
		return
	}
	err := c.history.CreateRun(storage.Run{
		ID:              id,
		StartedAt:       c.now(),
		Models:          names,
		ChatModel:       models.Canonical(sel.Chat),
		TabModel:        models.Canonical(sel.Tab),
		EmbeddingsModel: models.Canonical(sel.Embeddings),
	})
	if err != nil {
		c.logger.Warn("recording run failed", "run", id, "error", err)
	}
}

func (c *Coordinator) finishRun(id string, outcome Outcome, err error) {
	if c.history == nil {
		return
	}
	var msg string
	if outcome == OutcomeError {
		msg = err.Error()
	}
	if herr := c.history.FinishRun(id, string(outcome), FailedModel(err), msg, c.now()); herr != nil {
		c.logger.Warn("recording run outcome failed", "run", id, "error", herr)
	}
}
