package activity

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/settings"
)

// InactivityPeriod is how long a client counts as present after its last request.
const InactivityPeriod = 600 * time.Second

// Tracker counts the clients that interacted recently. The last request time per address
// lives on the bus so every component sees the same crowd.
type Tracker struct {
	bus      bus.Bus
	settings *settings.Store
	now      func() time.Time

	mu sync.Mutex
}

func NewTracker(b bus.Bus, s *settings.Store) *Tracker {
	return &Tracker{bus: b, settings: s, now: time.Now}
}

// Touch records a request from addr.
func (t *Tracker) Touch(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	requests := maps.Clone(bus.Get(t.bus, bus.LastRequests))
	if requests == nil {
		requests = make(map[string]time.Time)
	}
	requests[addr] = t.now()
	bus.Put(t.bus, bus.LastRequests, requests)
}

// ActiveUsers prunes stale clients and returns how many remain.
func (t *Tracker) ActiveUsers() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	requests := bus.Get(t.bus, bus.LastRequests)
	now := t.now()
	pruned := make(map[string]time.Time, len(requests))
	for addr, last := range requests {
		if now.Sub(last) < InactivityPeriod {
			pruned[addr] = last
		}
	}
	if len(pruned) != len(requests) {
		bus.Put(t.bus, bus.LastRequests, pruned)
	}
	return len(pruned)
}

// PartyMode reports whether enough people are around for alarms to fire.
func (t *Tracker) PartyMode(ctx context.Context) bool {
	return t.ActiveUsers() >= settings.MustGet(ctx, t.settings, settings.PeopleToParty)
}
