package panel

import (
	"context"
	"time"
)

// DefaultPollInterval is the spacing of pushed status messages.
const DefaultPollInterval = 1500 * time.Millisecond

// Poller pushes status snapshots to one connected UI until its context ends
// or a post fails.
type Poller struct {
	panel *Panel
	out   Poster
	poll  time.Duration
}

// NewPoller creates a Poller. If interval is <= 0, DefaultPollInterval is used.
func NewPoller(p *Panel, out Poster, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{panel: p, out: out, poll: interval}
}

// Run posts a status every interval until ctx is cancelled.
func (w *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.RunOnce(ctx); err != nil {
			w.panel.logger.Debug("panel: status push stopped", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce posts one status message unless the request was debounced.
func (w *Poller) RunOnce(ctx context.Context) error {
	snap, fresh := w.panel.Status(ctx)
	if !fresh {
		return nil
	}
	return w.out.Post(Message{Command: MsgStatus, Data: snap})
}
