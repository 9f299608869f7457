// Package active tracks which conversation the user currently has open.
// Incoming messages for the active conversation are marked read on arrival
// instead of accumulating as unread.
package active

import (
	"sync"
	"time"

	"github.com/viniciusgb/papo/internal/bus"
)

// Tracker holds the active conversation key ("" when none is open).
type Tracker struct {
	mu  sync.RWMutex
	key string
	bus *bus.Bus
}

func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{bus: b}
}

// Set records the active conversation key. Pass "" when the user leaves.
func (t *Tracker) Set(key string) {
	t.mu.Lock()
	changed := t.key != key
	t.key = key
	t.mu.Unlock()

	if changed && t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      "chat.activated",
			Timestamp: time.Now(),
			Payload:   key,
		})
	}
}

// Get returns the active conversation key, "" when none.
func (t *Tracker) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key
}
