package playback

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
)

// withCurrent installs a current song created at created and freezes the clock at now.
func withCurrent(t *testing.T, f *fixture, now, created time.Time) queue.Current {
	t.Helper()
	f.engine.now = func() time.Time { return now }
	current := queue.Current{
		QueueKey:    99,
		Title:       "Now",
		Duration:    180,
		InternalURL: uri("Now"),
		Created:     created,
		LastPaused:  created,
	}
	require.NoError(t, f.queue.SetCurrent(context.Background(), current))
	return current
}

func loadCurrent(t *testing.T, f *fixture) queue.Current {
	t.Helper()
	current, err := f.queue.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	return *current
}

func TestSeekBackwardNeverMovesIntoTheFuture(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	withCurrent(t, f, now, now.Add(-5*time.Second))

	require.NoError(t, f.controller.SeekBackward(context.Background()))
	assert.True(t, loadCurrent(t, f).Created.Equal(now))
}

func TestSeekForwardMovesStartBack(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	withCurrent(t, f, now, now.Add(-time.Minute))

	require.NoError(t, f.controller.SeekForward(context.Background()))
	assert.True(t, loadCurrent(t, f).Created.Equal(now.Add(-70*time.Second)))
	assert.Contains(t, f.fake.Calls(), "seek")
}

func TestPauseThenPlayShiftsStartByPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	withCurrent(t, f, now, now.Add(-time.Minute))

	require.NoError(t, f.controller.Pause(ctx))
	assert.True(t, bus.Get(f.bus, bus.Paused))
	assert.True(t, settings.MustGet(ctx, f.settings, settings.Paused))
	assert.True(t, loadCurrent(t, f).LastPaused.Equal(now))

	later := now.Add(30 * time.Second)
	f.engine.now = func() time.Time { return later }
	require.NoError(t, f.controller.Play(ctx))
	assert.False(t, bus.Get(f.bus, bus.Paused))
	assert.True(t, loadCurrent(t, f).Created.Equal(now.Add(-30*time.Second)))
}

func TestSkipEndsCurrentSong(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	withCurrent(t, f, now, now.Add(-time.Minute))
	bus.Put(f.bus, bus.BackupPlaying, true)

	require.NoError(t, f.controller.Skip(context.Background()))
	assert.True(t, loadCurrent(t, f).Created.Equal(now.Add(-180*time.Second)))
	assert.False(t, bus.Get(f.bus, bus.BackupPlaying))
	assert.Contains(t, f.fake.Calls(), "next")
}

func TestRestartResetsStart(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	withCurrent(t, f, now, now.Add(-time.Minute))

	require.NoError(t, f.controller.Restart(context.Background()))
	assert.True(t, loadCurrent(t, f).Created.Equal(now))
}

func TestControlsWithoutCurrentSong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.controller.Restart(ctx))
	assert.NoError(t, f.controller.Skip(ctx))
	assert.NoError(t, f.controller.SeekForward(ctx))
}

func TestSetVolume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.controller.SetVolume(ctx, 0.42))
	volume, err := f.fake.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, volume)
	assert.Equal(t, 0.42, settings.MustGet(ctx, f.settings, settings.Volume))

	require.NoError(t, f.controller.SetVolume(ctx, 3))
	volume, err = f.fake.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, volume)
}

func TestStartRestoresPersistedVolume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, f.settings, settings.Volume, 0.25))

	require.NoError(t, f.controller.Start(ctx))
	volume, err := f.fake.Volume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, volume)
}

func TestVoteRejectsInvalidAmounts(t *testing.T) {
	f := newFixture(t)
	entry := f.enqueue(t, "A")[0]

	for _, amount := range []int{-3, 0, 3} {
		err := f.controller.Vote(context.Background(), entry.ID, amount)
		assert.True(t, eris.Is(err, ErrInvalidVote), "amount %d", amount)
	}
}

func TestVoteKicksQueueEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entries := f.enqueue(t, "A", "B", "C")

	require.NoError(t, f.controller.Vote(ctx, entries[1].ID, -1))
	_, err := f.queue.Get(ctx, entries[1].ID)
	require.NoError(t, err)

	require.NoError(t, f.controller.Vote(ctx, entries[1].ID, -1))
	_, err = f.queue.Get(ctx, entries[1].ID)
	assert.True(t, eris.Is(err, queue.ErrNotFound))

	remaining, err := f.queue.All(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, 1, remaining[0].Index)
	assert.Equal(t, 2, remaining[1].Index)
}

func TestVoteMirrorsOnCurrentSongAndSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC)
	withCurrent(t, f, now, now.Add(-time.Minute))

	require.NoError(t, f.controller.Vote(ctx, 99, -1))
	assert.Equal(t, -1, loadCurrent(t, f).Votes)
	assert.NotContains(t, f.fake.Calls(), "next")

	require.NoError(t, f.controller.Vote(ctx, 99, -1))
	assert.Equal(t, -2, loadCurrent(t, f).Votes)
	assert.Contains(t, f.fake.Calls(), "next")
}

func TestRemoveUnknownEntry(t *testing.T) {
	f := newFixture(t)
	err := f.controller.Remove(context.Background(), 12345)
	assert.True(t, eris.Is(err, queue.ErrNotFound))
}

func TestReorderPublishesState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entries := f.enqueue(t, "A", "B", "C")
	changes := f.bus.Subscribe(bus.StateChanged)
	defer changes.Close()

	require.NoError(t, f.controller.Reorder(ctx, nil, entries[2].ID, &entries[0].ID))
	assert.Equal(t, "musiq", <-changes.C())

	all, err := f.queue.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, []string{all[0].Title, all[1].Title, all[2].Title})

	err = f.controller.Reorder(ctx, &entries[0].ID, entries[1].ID, &entries[2].ID)
	assert.True(t, eris.Is(err, queue.ErrInconsistentState))
}

func TestTriggerAlarmWhilePlayingRequestsInterrupt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bus.Put(f.bus, bus.Playing, true)

	assert.True(t, f.controller.TriggerAlarm(ctx))
	assert.True(t, bus.Get(f.bus, bus.AlarmRequested))
	count, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// a second press waits for the first alarm
	f.engine.now = func() time.Time { return time.Now().Add(time.Minute) }
	assert.False(t, f.controller.TriggerAlarm(ctx))
}
