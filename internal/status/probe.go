// Package status derives server and model readiness from the local inference
// server, the model catalog, and in-flight installs.
package status

import (
	"context"
	"log/slog"

	"github.com/kalambet/ollamaup/internal/models"
)

// Reachability checks whether the server answers its lightweight tag listing.
type Reachability interface {
	IsRunning(ctx context.Context) bool
}

// BinaryCheck reports whether the server executable is installed.
type BinaryCheck interface {
	Installed(ctx context.Context) bool
}

// ServerInstallState exposes the orchestrator's record of a dispatched
// server install.
type ServerInstallState interface {
	ServerInstalling() bool
	// ServerInstallSettled is called once a probe proves the server started.
	ServerInstallSettled()
}

// Probe determines the current ServerStatus. It never returns an error;
// every failure maps to a status.
type Probe struct {
	server  Reachability
	binary  BinaryCheck
	install ServerInstallState
	logger  *slog.Logger
}

// NewProbe creates a Probe. install may be nil when no orchestrator is wired.
func NewProbe(server Reachability, binary BinaryCheck, install ServerInstallState) *Probe {
	return &Probe{
		server:  server,
		binary:  binary,
		install: install,
		logger:  slog.Default(),
	}
}

// Probe reports started when the server is reachable, otherwise stopped or
// missing depending on the binary check. A dispatched install overrides
// stopped and missing with installing until the server is seen started.
func (p *Probe) Probe(ctx context.Context) models.ServerStatus {
	installing := p.install != nil && p.install.ServerInstalling()

	if p.server.IsRunning(ctx) {
		if installing {
			p.logger.Info("server install settled: server started")
			p.install.ServerInstallSettled()
		}
		return models.ServerStarted
	}

	if installing {
		return models.ServerInstalling
	}

	if p.binary.Installed(ctx) {
		p.logger.Debug("server not reachable but binary present")
		return models.ServerStopped
	}
	p.logger.Debug("server not reachable and binary missing")
	return models.ServerMissing
}
