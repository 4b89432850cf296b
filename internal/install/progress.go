package install

import (
	"math"

	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/ollama"
)

// ProgressTracker turns pull records for one model into ProgressEvents whose
// increments sum to the current percentage.
//
// Within a phase the percentage never goes backwards: a lower value (a
// duplicate or reordered record) yields increment 0. When the phase label
// changes the percentage may restart, producing a single negative increment.
type ProgressTracker struct {
	key   string
	phase string
	prev  int
}

// NewProgressTracker creates a tracker reporting events under key.
func NewProgressTracker(key string) *ProgressTracker {
	return &ProgressTracker{key: key}
}

// Percent returns the last reported percentage.
func (t *ProgressTracker) Percent() int {
	return t.prev
}

// Track converts one record into an event.
func (t *ProgressTracker) Track(rec ollama.PullRecord) models.ProgressEvent {
	ev := models.ProgressEvent{Key: t.key, Status: rec.Status}
	if rec.Total <= 0 {
		return ev
	}

	completed, total := rec.Completed, rec.Total
	ev.Completed = &completed
	ev.Total = &total

	pct := int(math.Round(100 * float64(completed) / float64(total)))
	switch {
	case rec.Status != t.phase:
		t.phase = rec.Status
		ev.Increment = pct - t.prev
		t.prev = pct
	case pct > t.prev:
		ev.Increment = pct - t.prev
		t.prev = pct
	}
	return ev
}
