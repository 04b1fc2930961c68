package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	tracker := NewTracker(bus.NewMemory(nil), settings.New(db, settings.Options{}))
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestActiveUsersPrunesInactiveClients(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Touch("10.0.0.1")
	*now = now.Add(5 * time.Minute)
	tracker.Touch("10.0.0.2")
	tracker.Touch("10.0.0.2")
	assert.Equal(t, 2, tracker.ActiveUsers())

	*now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, tracker.ActiveUsers())

	*now = now.Add(10 * time.Minute)
	assert.Zero(t, tracker.ActiveUsers())
}

func TestPartyModeUsesThreshold(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	tracker.Touch("a")
	tracker.Touch("b")
	assert.False(t, tracker.PartyMode(ctx))

	tracker.Touch("c")
	assert.True(t, tracker.PartyMode(ctx))

	require.NoError(t, settings.Put(ctx, tracker.settings, settings.PeopleToParty, 4))
	assert.False(t, tracker.PartyMode(ctx))
}
