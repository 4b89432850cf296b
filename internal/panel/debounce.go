package panel

import (
	"context"
	"sync"
	"time"

	"github.com/kalambet/ollamaup/internal/clock"
	"github.com/kalambet/ollamaup/internal/models"
)

// DefaultDebounce is the minimum spacing between two status computations.
const DefaultDebounce = 50 * time.Millisecond

// Debouncer collapses status requests arriving closer together than its
// spacing into the most recent computation. The window starts when a
// computation finishes, and callers arriving while one runs share its result.
type Debouncer struct {
	clock   clock.Clock
	spacing time.Duration

	mu       sync.Mutex
	last     time.Time
	snap     models.Snapshot
	has      bool
	inflight *computation
	// gen increments on Reset; computations begun under an older gen are
	// neither cached nor joined.
	gen uint64
}

type computation struct {
	gen  uint64
	done chan struct{}
	snap models.Snapshot
}

// NewDebouncer creates a Debouncer. A nil clock selects the wall clock.
func NewDebouncer(spacing time.Duration, clk clock.Clock) *Debouncer {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Debouncer{clock: clk, spacing: spacing}
}

// Do runs compute and returns its snapshot with fresh=true. Within the
// spacing window of the last computation, or while another caller's
// computation is running, it returns that snapshot with fresh=false.
func (d *Debouncer) Do(ctx context.Context, compute func(context.Context) models.Snapshot) (snap models.Snapshot, fresh bool) {
	d.mu.Lock()
	if c := d.inflight; c != nil && c.gen == d.gen {
		d.mu.Unlock()
		select {
		case <-c.done:
			return c.snap, false
		case <-ctx.Done():
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.snap, false
		}
	}
	if d.has && d.clock.Now().Sub(d.last) < d.spacing {
		defer d.mu.Unlock()
		return d.snap, false
	}
	c := &computation{gen: d.gen, done: make(chan struct{})}
	d.inflight = c
	d.mu.Unlock()

	c.snap = compute(ctx)

	d.mu.Lock()
	if d.gen == c.gen {
		d.snap = c.snap
		d.last = d.clock.Now()
		d.has = true
	}
	if d.inflight == c {
		d.inflight = nil
	}
	d.mu.Unlock()
	close(c.done)
	return c.snap, true
}

// Reset forces the next call to compute.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.has = false
	d.gen++
	d.mu.Unlock()
}
