package playback

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cybre/ravebox/internal/activity"
	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/player"
	"github.com/cybre/ravebox/internal/provider"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
)

const (
	DefaultStartTimeout = time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultErrorBackoff = 500 * time.Millisecond
)

// Deps are the collaborators shared between the engine and the controller.
type Deps struct {
	Queue     *queue.Store
	Settings  *settings.Store
	Bus       bus.Bus
	Guard     *player.Guard
	Registry  *provider.Registry
	Requester *provider.Requester
	Archive   *provider.Archive
	Activity  *activity.Tracker
}

// Sounds locates the files played for alarms.
type Sounds struct {
	Alarm string
	// BuzzerYes and BuzzerNo are directories a buzzer alarm draws from when a success
	// probability is configured.
	BuzzerYes string
	BuzzerNo  string
}

type Options struct {
	// StartTimeout bounds the wait for the player to acknowledge a started song.
	StartTimeout time.Duration
	PollInterval time.Duration
	// ErrorBackoff is slept before each iteration while the playback error flag is raised.
	ErrorBackoff time.Duration
	Sounds       Sounds
	Logger       *slog.Logger
}

// Engine moves songs from the queue to the player, one at a time.
type Engine struct {
	Deps
	opts   Options
	logger *slog.Logger

	now   func() time.Time
	probe func(string) (time.Duration, error)
}

func NewEngine(deps Deps, opts Options) *Engine {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		Deps:   deps,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
		probe:  player.Duration,
	}
}

// Run plays songs until ctx ends or Stop is called. A song interrupted by either stays the
// current song and is resumed by the next Run.
func (e *Engine) Run(ctx context.Context) error {
	bus.Put(e.Bus, bus.Playing, false)
	bus.Put(e.Bus, bus.Paused, settings.MustGet(ctx, e.Settings, settings.Paused))
	if err := e.Queue.DeletePlaceholders(ctx); err != nil {
		e.logger.Warn("could not drop stale placeholders", slog.Any("error", err))
	}

	e.logger.Info("playback loop started")
	defer e.logger.Info("playback loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if bus.Get(e.Bus, bus.StopPlaybackLoop) {
			return nil
		}
		if bus.Get(e.Bus, bus.PlaybackError) {
			if err := sleep(ctx, e.opts.ErrorBackoff); err != nil {
				return err
			}
		}

		if err := e.step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("playback iteration failed", slog.Any("error", err))
			if err := sleep(ctx, e.opts.ErrorBackoff); err != nil {
				return err
			}
		}
	}
}

// Stop asks Run to return after the current iteration. The request is sticky: later Runs
// on the same bus return immediately.
func (e *Engine) Stop() {
	bus.Put(e.Bus, bus.StopPlaybackLoop, true)
	e.Bus.Event(bus.QueueChanged).Set()
}

func (e *Engine) step(ctx context.Context) error {
	current, recovered, err := e.nextSong(ctx)
	if err != nil || current == nil {
		return err
	}

	offset := time.Duration(0)
	if recovered {
		offset = catchUp(*current, bus.Get(e.Bus, bus.Paused), e.now())
	}
	logger := e.logger.With(slog.String("title", current.Title), slog.Int64("key", current.QueueKey))

	if err := e.startSong(ctx, *current, recovered && offset >= 0, offset); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// the current song stays so the next iteration retries it
		logger.Warn("could not start song", slog.Any("error", err))
		e.publish()
		return nil
	}
	bus.Put(e.Bus, bus.Playing, true)
	e.publish()
	logger.Info("playing", slog.Bool("recovered", recovered), slog.Duration("offset", offset))

	if offset >= 0 {
		finished, err := e.waitUntilSongEnd(ctx)
		if err != nil {
			return err
		}
		if !finished {
			e.resetTransport(ctx)
			return nil
		}
	}
	e.resetTransport(ctx)

	if err := e.Queue.DeleteCurrent(ctx); err != nil {
		return err
	}
	e.songFinished(ctx, *current)
	return nil
}

// nextSong recovers the current song or hands the next queue entry over. It returns nil
// when the iteration has nothing to play.
func (e *Engine) nextSong(ctx context.Context) (*queue.Current, bool, error) {
	current, err := e.Queue.Current(ctx)
	if err != nil {
		return nil, false, err
	}
	if current != nil {
		return current, true, nil
	}

	count, err := e.Queue.ConfirmedCount(ctx)
	if err != nil {
		return nil, false, err
	}
	if count == 0 {
		changed := e.Bus.Event(bus.QueueChanged)
		if err := changed.Wait(ctx); err != nil {
			return nil, false, err
		}
		changed.Clear()
		// check again, the wakeup may have been for something else
		return nil, false, nil
	}

	voting := e.voting(ctx)
	var entry *queue.Entry
	switch {
	case voting:
		entry, err = e.Queue.TakeMostVoted(ctx)
	case settings.MustGet(ctx, e.Settings, settings.Shuffle):
		entry, err = e.Queue.TakeRandom(ctx)
	default:
		entry, err = e.Queue.Dequeue(ctx)
	}
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		e.logger.Warn("dequeued on empty queue")
		return nil, false, nil
	}

	if entry.InternalURL != nil && *entry.InternalURL == AlarmURL {
		e.playAlarm(ctx, false, true)
		return nil, false, nil
	}

	bus.Put(e.Bus, bus.BackupPlaying, false)

	next := queue.CurrentFromEntry(*entry, e.now())
	if err := e.Queue.SetCurrent(ctx, next); err != nil {
		return nil, false, err
	}

	e.autoplay(ctx, "")

	if settings.MustGet(ctx, e.Settings, settings.LoggingEnabled) {
		votes := 0
		if voting {
			votes = next.Votes
		}
		if err := e.Archive.LogPlay(ctx, next.ExternalURL, next.ManuallyRequested, votes); err != nil {
			e.logger.Warn("could not log play", slog.Any("error", err))
		}
	}

	return &next, false, nil
}

func (e *Engine) voting(ctx context.Context) bool {
	level := settings.MustGet(ctx, e.Settings, settings.InteractivityLevel)
	return level == settings.UpvotesOnly || level == settings.FullVoting
}

// catchUp is the position a recovered song resumes at, or -1 when it is already over.
func catchUp(current queue.Current, paused bool, now time.Time) time.Duration {
	elapsed := now.Sub(current.Created)
	if paused {
		elapsed = current.LastPaused.Sub(current.Created)
	}
	elapsed = max(elapsed.Round(time.Millisecond), 0)
	if elapsed > seconds(current.Duration) {
		return -1
	}
	return elapsed
}

func (e *Engine) startSong(ctx context.Context, current queue.Current, seek bool, offset time.Duration) error {
	paused := bus.Get(e.Bus, bus.Paused)

	return e.Guard.DoImportant(ctx, func(ctx context.Context, p player.Player) error {
		if err := p.Clear(ctx); err != nil {
			return err
		}
		// a restarted player may have forgotten consume
		if err := p.SetConsume(ctx, true); err != nil {
			return err
		}
		if err := p.Add(ctx, current.InternalURL); err != nil {
			return err
		}
		volume, err := p.Volume(ctx)
		if err != nil {
			return err
		}
		// muted while seeking so resuming mid-song is not audible
		if seek {
			if err := p.SetVolume(ctx, 0); err != nil {
				return err
			}
		}

		player.DrainStarted(p)
		if err := p.Play(ctx); err != nil {
			return err
		}
		if err := e.awaitStart(ctx, p); err != nil {
			if err := p.SetVolume(ctx, volume); err != nil {
				e.logger.Warn("could not restore volume", slog.Any("error", err))
			}
			return err
		}

		if !seek {
			return nil
		}
		if err := p.Seek(ctx, offset); err != nil {
			return err
		}
		if paused {
			if err := p.Pause(ctx); err != nil {
				return err
			}
		}
		return p.SetVolume(ctx, volume)
	})
}

func (e *Engine) awaitStart(ctx context.Context, p player.Player) error {
	timer := time.NewTimer(e.opts.StartTimeout)
	defer timer.Stop()

	select {
	case <-p.Started():
		return nil
	case <-timer.C:
		return player.ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitUntilSongEnd polls until the current song is over. It returns false when the song
// was interrupted and has to be resumed.
func (e *Engine) waitUntilSongEnd(ctx context.Context) (bool, error) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	failed := false
	for {
		current, err := e.Queue.Current(ctx)
		if err != nil {
			return false, err
		}
		if current == nil {
			return true, nil
		}

		var state player.State
		err = e.Guard.Do(ctx, func(ctx context.Context, p player.Player) error {
			var stateErr error
			state, stateErr = p.State(ctx)
			return stateErr
		})
		switch {
		case err != nil:
			failed = true
		case state == player.StateStopped:
			// after a failure a stopped player was restarted, resume the song
			return !failed, nil
		}

		if !bus.Get(e.Bus, bus.Paused) && e.now().Sub(current.Created) >= seconds(current.Duration) {
			return !failed, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}

		if bus.Get(e.Bus, bus.StopPlaybackLoop) {
			return false, nil
		}
		if bus.Get(e.Bus, bus.AlarmRequested) {
			bus.Put(e.Bus, bus.AlarmRequested, false)
			e.playAlarm(ctx, true, true)
			// the song must not skip the time the alarm was playing
			shift := bus.Get(e.Bus, bus.AlarmDuration)
			if _, err := e.Queue.UpdateCurrent(ctx, func(c *queue.Current) {
				c.Created = c.Created.Add(shift)
			}); err != nil {
				return false, err
			}
			return false, nil
		}
	}
}

// resetTransport forgets a pause. Songs never start paused.
func (e *Engine) resetTransport(ctx context.Context) {
	if err := settings.Put(ctx, e.Settings, settings.Paused, false); err != nil {
		e.logger.Warn("could not persist pause state", slog.Any("error", err))
	}
	bus.Put(e.Bus, bus.Paused, false)
	bus.Put(e.Bus, bus.Playing, false)
}

func (e *Engine) songFinished(ctx context.Context, current queue.Current) {
	if settings.MustGet(ctx, e.Settings, settings.Repeat) {
		meta := queue.Metadata{
			Artist:      current.Artist,
			Title:       current.Title,
			Duration:    current.Duration,
			InternalURL: current.InternalURL,
			ExternalURL: current.ExternalURL,
		}
		if current.StreamURL != nil {
			meta.StreamURL = *current.StreamURL
		}
		if _, err := e.Queue.Enqueue(ctx, meta, false, 0, false); err != nil {
			e.logger.Warn("could not repeat song", slog.Any("error", err))
		} else {
			e.Bus.Event(bus.QueueChanged).Set()
		}
	}

	if e.Activity != nil && e.Activity.PartyMode(ctx) &&
		rand.Float64() < settings.MustGet(ctx, e.Settings, settings.AlarmProbability) {
		e.playAlarm(ctx, false, false)
	}

	count, err := e.Queue.Count(ctx)
	if err != nil {
		e.logger.Warn("could not count queue", slog.Any("error", err))
	}
	if stream := settings.MustGet(ctx, e.Settings, settings.BackupStream); err == nil && count == 0 && stream != "" {
		bus.Put(e.Bus, bus.BackupPlaying, true)
		err := e.Guard.Do(ctx, func(ctx context.Context, p player.Player) error {
			if err := p.Add(ctx, stream); err != nil {
				return err
			}
			return p.Play(ctx)
		})
		if err != nil {
			e.logger.Warn("could not start backup stream", slog.Any("error", err))
		}
	}

	e.publish()
}

func (e *Engine) publish() {
	e.Bus.Publish(bus.StateChanged, "musiq")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
