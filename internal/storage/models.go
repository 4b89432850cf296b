package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeSuccess   = "success"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// Run is one provisioning request and its result.
type Run struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time // zero while running
	Models          []string  // install order, JSON array stored as text
	ChatModel       string
	TabModel        string
	EmbeddingsModel string
	Outcome         string
	FailedModel     string
	Error           string
	Pulled          []string // models actually downloaded by the run
}
