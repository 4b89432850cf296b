// Package install drives the inference server install and streaming model
// pulls.
package install

import (
	"sort"
	"sync"

	"github.com/kalambet/ollamaup/internal/models"
)

// Session is the set of models currently being pulled. It is safe for
// concurrent use; names are stored canonicalized.
type Session struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{names: make(map[string]struct{})}
}

// Add inserts name and reports whether it was absent.
func (s *Session) Add(name string) bool {
	key := models.Canonical(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[key]; ok {
		return false
	}
	s.names[key] = struct{}{}
	return true
}

// Remove deletes name from the set.
func (s *Session) Remove(name string) {
	s.mu.Lock()
	delete(s.names, models.Canonical(name))
	s.mu.Unlock()
}

// Contains reports whether name is mid-pull.
func (s *Session) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[models.Canonical(name)]
	return ok
}

// Names returns the active pulls in sorted order.
func (s *Session) Names() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
