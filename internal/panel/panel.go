// Package panel implements the message protocol spoken with the setup UI.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/kalambet/ollamaup/internal/clock"
	"github.com/kalambet/ollamaup/internal/install"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/provision"
)

// Inbound commands.
const (
	CmdInit          = "init"
	CmdFetchStatus   = "fetchStatus"
	CmdInstallServer = "installServer"
	CmdRecheckServer = "recheckServer"
	CmdSetup         = "setupGranite"
	CmdCancelSetup   = "cancelSetup"
)

// Outbound commands.
const (
	MsgInit         = "init"
	MsgStatus       = "status"
	MsgPullProgress = "pull-progress"
	MsgPageUpdate   = "page-update"
	MsgSetupResult  = "setup-result"
	MsgError        = "error"
)

// ErrSetupRunning is returned when a setup is requested while one is active.
var ErrSetupRunning = errors.New("setup already running")

// Message is one outbound message.
type Message struct {
	Command string `json:"command"`
	Data    any    `json:"data,omitempty"`
}

// Inbound is one message received from the UI. Data is decoded per command.
type Inbound struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Poster delivers messages to the UI. Implementations must be safe for
// concurrent use.
type Poster interface {
	Post(msg Message) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(Message) error

func (f PosterFunc) Post(msg Message) error { return f(msg) }

// StatusService computes status snapshots.
type StatusService interface {
	Snapshot(ctx context.Context, names []string) models.Snapshot
}

// ServerInstaller drives the server install.
type ServerInstaller interface {
	Modes() []install.ModeInfo
	InstallServer(ctx context.Context, mode install.Mode) error
	Recheck() bool
}

// Provisioner runs a setup request.
type Provisioner interface {
	Provision(ctx context.Context, sel provision.Selections, onProgress func(models.ProgressEvent)) error
}

// SystemInfo describes the host for the UI.
type SystemInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Endpoint string `json:"endpoint"`
}

// InitData is the payload of the init message.
type InitData struct {
	InstallModes []install.ModeInfo   `json:"installModes"`
	System       SystemInfo           `json:"system"`
	Models       []models.Info        `json:"models"`
	Defaults     provision.Selections `json:"defaults"`
}

// PageUpdate brackets a setup run.
type PageUpdate struct {
	Installing bool `json:"installing"`
}

// PullProgress wraps a progress event.
type PullProgress struct {
	Progress models.ProgressEvent `json:"progress"`
}

// SetupResult ends a setup run. Error is empty for success and cancellation.
type SetupResult struct {
	Outcome provision.Outcome `json:"outcome"`
	Model   string            `json:"model,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Options configure a Panel.
type Options struct {
	// Models are the names included in every status snapshot.
	Models   []string
	Defaults provision.Selections
	Endpoint string
	Debounce time.Duration
	Clock    clock.Clock
}

// Panel serves UI requests. It allows one setup run at a time.
type Panel struct {
	status      StatusService
	server      ServerInstaller
	provisioner Provisioner
	debounce    *Debouncer
	opts        Options
	logger      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Panel. A negative Debounce disables debouncing; zero selects
// DefaultDebounce.
func New(status StatusService, server ServerInstaller, provisioner Provisioner, opts Options) *Panel {
	spacing := opts.Debounce
	switch {
	case spacing == 0:
		spacing = DefaultDebounce
	case spacing < 0:
		spacing = 0
	}
	return &Panel{
		status:      status,
		server:      server,
		provisioner: provisioner,
		debounce:    NewDebouncer(spacing, opts.Clock),
		opts:        opts,
		logger:      slog.Default(),
	}
}

// watched returns the status names: configured models plus the defaults.
func (p *Panel) watched() []string {
	names := append([]string{}, p.opts.Models...)
	return append(names, p.opts.Defaults.Models()...)
}

// Init returns the install modes and static host information.
func (p *Panel) Init() InitData {
	var infos []models.Info
	seen := make(map[string]bool)
	for _, name := range p.watched() {
		key := models.Canonical(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		info, ok := models.BundledInfo(key)
		if !ok {
			info = models.Info{ID: key}
		}
		infos = append(infos, info)
	}
	return InitData{
		InstallModes: p.server.Modes(),
		System: SystemInfo{
			OS:       runtime.GOOS,
			Arch:     runtime.GOARCH,
			Endpoint: p.opts.Endpoint,
		},
		Models:   infos,
		Defaults: p.opts.Defaults,
	}
}

// Status returns the current snapshot. fresh is false when the request fell
// inside the debounce window and the previous snapshot was returned.
func (p *Panel) Status(ctx context.Context) (snap models.Snapshot, fresh bool) {
	return p.debounce.Do(ctx, func(ctx context.Context) models.Snapshot {
		return p.status.Snapshot(ctx, p.watched())
	})
}

// InstallServer dispatches a server install.
func (p *Panel) InstallServer(ctx context.Context, mode install.Mode) error {
	if err := p.server.InstallServer(ctx, mode); err != nil {
		return err
	}
	p.debounce.Reset()
	return nil
}

// Recheck clears a pending server install and forces a fresh snapshot.
func (p *Panel) Recheck(ctx context.Context) models.Snapshot {
	p.server.Recheck()
	p.debounce.Reset()
	snap, _ := p.Status(ctx)
	return snap
}

// Setup provisions sel, posting page-update, pull-progress and setup-result
// messages to out. It returns the provisioning error; cancellation yields
// install.ErrCancelled.
func (p *Panel) Setup(ctx context.Context, sel provision.Selections, out Poster) error {
	ctx, err := p.claimSetup(ctx)
	if err != nil {
		return err
	}
	return p.runSetup(ctx, sel, out)
}

// claimSetup reserves the single setup slot and returns the context that
// CancelSetup cancels.
func (p *Panel) claimSetup(ctx context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil, ErrSetupRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	return ctx, nil
}

// runSetup runs a claimed setup and releases the slot.
func (p *Panel) runSetup(ctx context.Context, sel provision.Selections, out Poster) error {
	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.mu.Unlock()
		p.debounce.Reset()
	}()

	p.post(out, Message{Command: MsgPageUpdate, Data: PageUpdate{Installing: true}})
	err := p.provisioner.Provision(ctx, sel, func(ev models.ProgressEvent) {
		p.post(out, Message{Command: MsgPullProgress, Data: PullProgress{Progress: ev}})
	})
	p.post(out, Message{Command: MsgPageUpdate, Data: PageUpdate{Installing: false}})

	result := SetupResult{Outcome: provision.OutcomeOf(err)}
	if result.Outcome == provision.OutcomeError {
		result.Model = provision.FailedModel(err)
		result.Error = err.Error()
	}
	p.post(out, Message{Command: MsgSetupResult, Data: result})
	return err
}

// CancelSetup cancels the active setup and reports whether one was running.
func (p *Panel) CancelSetup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	p.cancel()
	return true
}

// Running reports whether a setup is active.
func (p *Panel) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Panel) post(out Poster, msg Message) {
	if err := out.Post(msg); err != nil {
		p.logger.Debug("panel: post failed", "command", msg.Command, "error", err)
	}
}

// Handle dispatches one inbound message. Replies are posted to out. Setup
// runs in the background so a later cancelSetup can reach it; ctx bounds it.
func (p *Panel) Handle(ctx context.Context, in Inbound, out Poster) error {
	switch in.Command {
	case CmdInit:
		return out.Post(Message{Command: MsgInit, Data: p.Init()})

	case CmdFetchStatus:
		snap, fresh := p.Status(ctx)
		if !fresh {
			p.logger.Debug("panel: fetchStatus debounced")
			return nil
		}
		return out.Post(Message{Command: MsgStatus, Data: snap})

	case CmdInstallServer:
		var req struct {
			Mode install.Mode `json:"mode"`
		}
		if err := decode(in.Data, &req); err != nil {
			return err
		}
		if err := p.InstallServer(ctx, req.Mode); err != nil {
			return err
		}
		snap, _ := p.Status(ctx)
		return out.Post(Message{Command: MsgStatus, Data: snap})

	case CmdRecheckServer:
		return out.Post(Message{Command: MsgStatus, Data: p.Recheck(ctx)})

	case CmdSetup:
		var sel provision.Selections
		if err := decode(in.Data, &sel); err != nil {
			return err
		}
		setupCtx, err := p.claimSetup(ctx)
		if err != nil {
			return err
		}
		go func() {
			err := p.runSetup(setupCtx, sel, out)
			if err != nil && provision.OutcomeOf(err) == provision.OutcomeError {
				p.logger.Error("panel: setup failed", "error", err)
			}
		}()
		return nil

	case CmdCancelSetup:
		if p.CancelSetup() {
			p.logger.Info("panel: setup cancel requested")
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", in.Command)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message data: %w", err)
	}
	return nil
}
