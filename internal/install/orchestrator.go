package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/ollamaup/internal/clock"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/ollama"
)

var (
	// ErrCancelled is returned when a pull stops because its context was
	// cancelled. It is an outcome, not a failure.
	ErrCancelled = errors.New("cancelled")
	// ErrAlreadyPulling is returned when the model is already mid-pull.
	ErrAlreadyPulling = errors.New("model is already being pulled")
	// ErrUnknownMode is returned for an install mode this host does not offer.
	ErrUnknownMode = errors.New("unsupported install mode")
)

// DefaultServerInstallTimeout bounds how long a dispatched server install is
// reported as installing without the server coming up.
const DefaultServerInstallTimeout = 15 * time.Minute

// Puller streams a model download from the server.
type Puller interface {
	Pull(ctx context.Context, name string, onRecord func(ollama.PullRecord)) error
}

// Invalidator drops cached registry state after a pull.
type Invalidator interface {
	Invalidate()
}

// Orchestrator installs the server and pulls models. It owns the install
// Session and the record of a dispatched server install.
type Orchestrator struct {
	puller   Puller
	launcher Launcher
	registry Invalidator
	platform Platform
	session  *Session
	server   *serverInstall
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. registry may be nil. A nil clock
// selects the wall clock; a zero timeout selects DefaultServerInstallTimeout.
func NewOrchestrator(puller Puller, launcher Launcher, registry Invalidator, timeout time.Duration, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	if timeout <= 0 {
		timeout = DefaultServerInstallTimeout
	}
	return &Orchestrator{
		puller:   puller,
		launcher: launcher,
		registry: registry,
		platform: HostPlatform(),
		session:  NewSession(),
		server:   &serverInstall{clock: clk, timeout: timeout},
		logger:   slog.Default(),
	}
}

// SetPlatform overrides host detection.
func (o *Orchestrator) SetPlatform(p Platform) {
	o.platform = p
}

// Modes lists the server install modes offered on this host.
func (o *Orchestrator) Modes() []ModeInfo {
	return o.platform.Modes()
}

// InstallServer dispatches the install for mode. Terminal modes mark the
// server as installing before the command is launched; the command's exit is
// never observed, the next status probe reports the outcome.
func (o *Orchestrator) InstallServer(ctx context.Context, mode Mode) error {
	if !o.platform.Offers(mode) {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	switch mode {
	case ModeHomebrew, ModeScript:
		command := HomebrewCommand
		if mode == ModeScript {
			command = ScriptCommand
		}
		o.server.begin(mode)
		o.logger.Info("dispatching server install", "mode", mode)
		if err := o.launcher.RunInTerminal(ctx, command); err != nil {
			o.server.clear()
			return fmt.Errorf("installing server with %s: %w", mode, err)
		}
	default:
		o.logger.Info("opening server download page", "url", DownloadURL)
		if err := o.launcher.OpenURL(ctx, DownloadURL); err != nil {
			return fmt.Errorf("opening download page: %w", err)
		}
	}
	return nil
}

// ServerInstalling reports whether a dispatched install is still pending.
func (o *Orchestrator) ServerInstalling() bool {
	return o.server.installing()
}

// ServerInstallSettled clears the pending install once the server started.
func (o *Orchestrator) ServerInstallSettled() {
	o.server.clear()
}

// Recheck abandons a pending install so the next probe reports the observed
// state. It reports whether an install was pending.
func (o *Orchestrator) Recheck() bool {
	was := o.server.clear()
	if was {
		o.logger.Info("server install state cleared by recheck")
	}
	return was
}

// Pulling reports whether name is in the install session.
func (o *Orchestrator) Pulling(name string) bool {
	return o.session.Contains(name)
}

// Active lists the models currently being pulled.
func (o *Orchestrator) Active() []string {
	return o.session.Names()
}

// InstallModel pulls name, reporting progress through onProgress. It returns
// ErrCancelled when ctx is cancelled. The model leaves the install session
// before InstallModel returns, whatever the outcome.
func (o *Orchestrator) InstallModel(ctx context.Context, name string, onProgress func(models.ProgressEvent)) error {
	key := models.Canonical(name)
	if key == "" {
		return fmt.Errorf("installing model: empty name")
	}
	if !o.session.Add(key) {
		return fmt.Errorf("installing %s: %w", key, ErrAlreadyPulling)
	}
	defer func() {
		o.session.Remove(key)
		if o.registry != nil {
			o.registry.Invalidate()
		}
	}()

	start := time.Now()
	o.logger.Info("pulling model", "model", key)

	tracker := NewProgressTracker(key)
	err := o.puller.Pull(ctx, key, func(rec ollama.PullRecord) {
		ev := tracker.Track(rec)
		if onProgress != nil {
			onProgress(ev)
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			o.logger.Info("model pull cancelled", "model", key, "progress", tracker.Percent())
			return ErrCancelled
		}
		o.logger.Error("model pull failed", "model", key, "error", err)
		return fmt.Errorf("pulling %s: %w", key, err)
	}

	o.logger.Info("model pulled", "model", key, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
