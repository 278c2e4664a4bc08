// Package memory contains an in-memory alerter for tests.
package memory

import (
	"context"
	"sync"

	"github.com/lexhaven/regtruth/internal/alert"
)

// Alerter stores sent events for inspection.
type Alerter struct {
	mu     sync.RWMutex
	events []alert.Event
}

// New returns a memory Alerter.
func New() *Alerter {
	return &Alerter{}
}

// SendAlert records the event.
func (a *Alerter) SendAlert(_ context.Context, event alert.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// Events returns the recorded events.
func (a *Alerter) Events() []alert.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]alert.Event, len(a.events))
	copy(out, a.events)
	return out
}
