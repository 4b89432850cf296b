package status

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ollamaup/internal/catalog"
	"github.com/kalambet/ollamaup/internal/models"
)

// ServerProber yields the current server status.
type ServerProber interface {
	Probe(ctx context.Context) models.ServerStatus
}

// InstalledLister returns the models present on the server.
type InstalledLister interface {
	ListInstalled(ctx context.Context) ([]models.InstalledModel, error)
}

// PullTracker reports models currently being pulled.
type PullTracker interface {
	Pulling(name string) bool
}

// Resolver classifies requested models. Precedence, in order: server not
// started gives unknown; an active pull gives installing; absence from the
// registry gives missing; a catalog digest mismatch gives stale; anything else
// is installed.
type Resolver struct {
	server   ServerProber
	registry InstalledLister
	remote   catalog.Resolver
	pulls    PullTracker
	logger   *slog.Logger
}

// NewResolver creates a Resolver. remote and pulls may be nil.
func NewResolver(server ServerProber, registry InstalledLister, remote catalog.Resolver, pulls PullTracker) *Resolver {
	return &Resolver{
		server:   server,
		registry: registry,
		remote:   remote,
		pulls:    pulls,
		logger:   slog.Default(),
	}
}

// ServerStatus probes the server.
func (r *Resolver) ServerStatus(ctx context.Context) models.ServerStatus {
	return r.server.Probe(ctx)
}

// ModelStatus probes the server and classifies name.
func (r *Resolver) ModelStatus(ctx context.Context, name string) models.ModelStatus {
	return r.Classify(ctx, r.server.Probe(ctx), name)
}

// Classify resolves name against an already known server status.
func (r *Resolver) Classify(ctx context.Context, server models.ServerStatus, name string) models.ModelStatus {
	if server != models.ServerStarted {
		return models.ModelUnknown
	}

	key := models.Canonical(name)
	if r.pulls != nil && r.pulls.Pulling(key) {
		return models.ModelInstalling
	}

	tags, err := r.registry.ListInstalled(ctx)
	if err != nil {
		r.logger.Warn("status: listing installed models failed", "model", key, "error", err)
		return models.ModelUnknown
	}
	local, ok := Find(tags, key)
	if !ok {
		return models.ModelMissing
	}

	if r.remote == nil || local.Digest == "" {
		return models.ModelInstalled
	}
	info, ok := r.remote.RemoteInfo(ctx, key)
	if !ok || info.Digest == "" {
		// Unknown remote state never blocks an installed model.
		return models.ModelInstalled
	}
	if !models.DigestMatches(local.Digest, info.Digest) {
		r.logger.Debug("status: model is stale", "model", key, "local", local.Digest, "remote", info.Digest)
		return models.ModelStale
	}
	return models.ModelInstalled
}

// Snapshot probes the server once and classifies every name concurrently.
// Statuses are keyed by canonical name.
func (r *Resolver) Snapshot(ctx context.Context, names []string) models.Snapshot {
	server := r.server.Probe(ctx)
	snap := models.Snapshot{
		ServerStatus:  server,
		ModelStatuses: make(map[string]models.ModelStatus, len(names)),
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := models.Canonical(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error {
			st := r.Classify(gCtx, server, key)
			mu.Lock()
			snap.ModelStatuses[key] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snap
}
