package status

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/ollamaup/internal/clock"
	"github.com/kalambet/ollamaup/internal/models"
)

// DefaultRegistryTTL collapses bursts of per-model lookups into one request.
const DefaultRegistryTTL = 100 * time.Millisecond

// TagLister lists models present on the server.
type TagLister interface {
	ListTags(ctx context.Context) ([]models.InstalledModel, error)
}

// Registry caches the server's tag list for a short TTL. Concurrent misses
// share one request. Errors are returned to the caller and never cached.
type Registry struct {
	lister TagLister
	ttl    time.Duration
	clock  clock.Clock
	group  singleflight.Group

	mu        sync.Mutex
	tags      []models.InstalledModel
	fetchedAt time.Time
	valid     bool
	// gen increments on Invalidate; fetches started under an older gen do
	// not populate the cache.
	gen uint64
}

// NewRegistry creates a Registry. A nil clock selects the wall clock and a
// non-positive ttl selects DefaultRegistryTTL.
func NewRegistry(lister TagLister, ttl time.Duration, clk clock.Clock) *Registry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{lister: lister, ttl: ttl, clock: clk}
}

// ListInstalled returns the cached tag list, refreshing it once the TTL has
// elapsed.
func (r *Registry) ListInstalled(ctx context.Context) ([]models.InstalledModel, error) {
	r.mu.Lock()
	if r.valid && r.clock.Now().Sub(r.fetchedAt) < r.ttl {
		tags := r.tags
		r.mu.Unlock()
		return tags, nil
	}
	gen := r.gen
	r.mu.Unlock()

	// Keyed by generation so a fetch begun after Invalidate never joins one
	// that started before it.
	v, err, _ := r.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		tags, err := r.lister.ListTags(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.gen == gen {
			r.tags = tags
			r.fetchedAt = r.clock.Now()
			r.valid = true
		}
		r.mu.Unlock()
		return tags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.InstalledModel), nil
}

// Invalidate drops the cached list so the next call hits the server.
// Results of fetches already in flight are not cached.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.valid = false
	r.tags = nil
	r.gen++
	r.mu.Unlock()
}

// Find returns the installed entry matching name after canonicalization.
func Find(tags []models.InstalledModel, name string) (models.InstalledModel, bool) {
	want := models.Canonical(name)
	for _, t := range tags {
		if models.Canonical(t.Name) == want {
			return t, true
		}
	}
	return models.InstalledModel{}, false
}
