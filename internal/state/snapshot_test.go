package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/store"
)

type fixedPrograms map[string]string

func (p fixedPrograms) ProgramOf(device string) string { return p[device] }

type fixedUsers int

func (u fixedUsers) ActiveUsers() int { return int(u) }

func newTestSnapshotter(t *testing.T) *Snapshotter {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	return &Snapshotter{
		Settings: settings.New(db, settings.Options{}),
		Bus:      bus.NewMemory(nil),
		Queue:    queue.New(db),
		Now:      func() time.Time { return now },
	}
}

func TestSnapshotDefaults(t *testing.T) {
	s := newTestSnapshotter(t)

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Musiq.Playing)
	assert.Nil(t, snap.Musiq.Current)
	assert.Empty(t, snap.Musiq.Queue)
	assert.Equal(t, 1.0, snap.Musiq.Volume)
	assert.Equal(t, 30.0, snap.Lights.UPS)
	assert.Equal(t, 1.0, snap.Lights.RenderScale)
	assert.Len(t, snap.Lights.Devices, len(settings.Devices))
	assert.Equal(t, Device{Program: "Disabled", Brightness: 1}, snap.Lights.Devices["ring"])
	assert.Zero(t, snap.ActiveUsers)
}

func TestSnapshotMusiq(t *testing.T) {
	s := newTestSnapshotter(t)
	ctx := context.Background()
	now := s.Now()

	_, err := s.Queue.Enqueue(ctx, queue.Metadata{
		Artist:      "Daft Punk",
		Title:       "One More Time",
		Duration:    320,
		InternalURL: "file:///music/one_more_time.mp3",
		ExternalURL: "local_library/one_more_time.mp3",
	}, true, 2, false)
	require.NoError(t, err)
	_, err = s.Queue.Enqueue(ctx, queue.Metadata{ExternalURL: "https://www.youtube.com/watch?v=abc"}, true, 0, false)
	require.NoError(t, err)

	require.NoError(t, s.Queue.SetCurrent(ctx, queue.Current{
		QueueKey:   7,
		Artist:     "Justice",
		Title:      "D.A.N.C.E.",
		Duration:   240,
		Created:    now.Add(-90 * time.Second),
		LastPaused: now.Add(-30 * time.Second),
	}))
	require.NoError(t, settings.Put(ctx, s.Settings, settings.Shuffle, true))
	bus.Put(s.Bus, bus.Playing, true)
	s.Users = fixedUsers(4)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Musiq.Playing)
	assert.True(t, snap.Musiq.Shuffle)
	assert.Equal(t, 4, snap.ActiveUsers)

	require.NotNil(t, snap.Musiq.Current)
	assert.Equal(t, "D.A.N.C.E.", snap.Musiq.Current.Title)
	assert.InDelta(t, 90, snap.Musiq.Current.Progress, 1e-6)

	require.Len(t, snap.Musiq.Queue, 2)
	assert.Equal(t, 1, snap.Musiq.Queue[0].Index)
	assert.Equal(t, 2, snap.Musiq.Queue[0].Votes)
	assert.True(t, snap.Musiq.Queue[0].Confirmed)
	assert.False(t, snap.Musiq.Queue[1].Confirmed, "placeholders are listed unconfirmed")

	// the clock stops while paused
	bus.Put(s.Bus, bus.Paused, true)
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 60, snap.Musiq.Current.Progress, 1e-6)
}

func TestSnapshotProgressIsBounded(t *testing.T) {
	s := newTestSnapshotter(t)
	now := s.Now()

	current := s.currentSong(queue.Current{Created: now.Add(-10 * time.Minute), Duration: 60}, false)
	assert.Equal(t, 60.0, current.Progress)
	current = s.currentSong(queue.Current{Created: now.Add(time.Minute), Duration: 60}, false)
	assert.Zero(t, current.Progress)
}

func TestSnapshotLights(t *testing.T) {
	s := newTestSnapshotter(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s.Settings, settings.Program("ring"), "Rainbow"))
	require.NoError(t, settings.Put(ctx, s.Settings, settings.Brightness("ring"), 0.5))
	bus.Put(s.Bus, bus.LEDPrograms, []string{"Disabled", "Fixed", "Rainbow"})
	bus.Put(s.Bus, bus.Initialized("ring"), true)
	bus.Put(s.Bus, bus.CurrentFPS, 29.5)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Device{Program: "Rainbow", Brightness: 0.5, Initialized: true}, snap.Lights.Devices["ring"])
	assert.Equal(t, []string{"Disabled", "Fixed", "Rainbow"}, snap.Lights.LEDPrograms)
	assert.Equal(t, 29.5, snap.Lights.FPS)

	// a running alarm shows through the live programs
	s.Programs = fixedPrograms{"ring": "Fixed"}
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fixed", snap.Lights.Devices["ring"].Program)
	assert.Equal(t, "Disabled", snap.Lights.Devices["wled"].Program)
}
