package playback

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/player"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
)

const SeekDistance = 10 * time.Second

var ErrInvalidVote = eris.New("vote amount must be between -2 and 2 and not zero")

// Controller applies user commands to the player and keeps the current song's timestamps
// in step, so the engine's own timekeeping stays correct.
type Controller struct {
	engine *Engine
	logger *slog.Logger
}

func NewController(e *Engine) *Controller {
	return &Controller{engine: e, logger: e.logger.With(slog.String("component", "controller"))}
}

// Start restores the persisted volume.
func (c *Controller) Start(ctx context.Context) error {
	return c.setPlayerVolume(ctx, settings.MustGet(ctx, c.engine.Settings, settings.Volume))
}

// Restart plays the current song from the beginning.
func (c *Controller) Restart(ctx context.Context) error {
	err := c.command(ctx, func(ctx context.Context, p player.Player) error {
		return p.Seek(ctx, 0)
	})
	return c.updateCurrent(ctx, err, func(cur *queue.Current) {
		cur.Created = c.engine.now()
	})
}

func (c *Controller) SeekBackward(ctx context.Context) error {
	err := c.command(ctx, func(ctx context.Context, p player.Player) error {
		position, err := p.Position(ctx)
		if err != nil {
			return err
		}
		return p.Seek(ctx, max(position-SeekDistance, 0))
	})
	return c.updateCurrent(ctx, err, func(cur *queue.Current) {
		now := c.engine.now()
		cur.Created = minTime(cur.Created.Add(SeekDistance), now)
	})
}

func (c *Controller) SeekForward(ctx context.Context) error {
	err := c.command(ctx, func(ctx context.Context, p player.Player) error {
		position, err := p.Position(ctx)
		if err != nil {
			return err
		}
		return p.Seek(ctx, position+SeekDistance)
	})
	return c.updateCurrent(ctx, err, func(cur *queue.Current) {
		cur.Created = cur.Created.Add(-SeekDistance)
	})
}

// Play resumes a paused song. The pause is added to the song's start time.
func (c *Controller) Play(ctx context.Context) error {
	err := c.command(ctx, func(ctx context.Context, p player.Player) error {
		return p.Play(ctx)
	})
	err = c.updateCurrent(ctx, err, func(cur *queue.Current) {
		now := c.engine.now()
		cur.Created = minTime(cur.Created.Add(now.Sub(cur.LastPaused)), now)
	})
	return firstErr(err, c.setPaused(ctx, false))
}

func (c *Controller) Pause(ctx context.Context) error {
	err := c.command(ctx, func(ctx context.Context, p player.Player) error {
		return p.Pause(ctx)
	})
	err = c.updateCurrent(ctx, err, func(cur *queue.Current) {
		cur.LastPaused = c.engine.now()
	})
	return firstErr(err, c.setPaused(ctx, true))
}

// Skip ends the current song and stops the backup stream.
func (c *Controller) Skip(ctx context.Context) error {
	err := c.command(ctx, func(ctx context.Context, p player.Player) error {
		return p.Next(ctx)
	})
	bus.Put(c.engine.Bus, bus.BackupPlaying, false)
	return c.updateCurrent(ctx, err, func(cur *queue.Current) {
		cur.Created = c.engine.now().Add(-seconds(cur.Duration))
	})
}

// SetVolume takes a value between 0 and 1.
func (c *Controller) SetVolume(ctx context.Context, volume float64) error {
	volume = math.Max(0, math.Min(1, volume))
	err := c.setPlayerVolume(ctx, volume)
	if putErr := settings.Put(ctx, c.engine.Settings, settings.Volume, volume); putErr != nil {
		return putErr
	}
	c.engine.publish()
	return err
}

func (c *Controller) SetShuffle(ctx context.Context, enabled bool) error {
	return c.putSetting(ctx, settings.Shuffle, enabled)
}

func (c *Controller) SetRepeat(ctx context.Context, enabled bool) error {
	return c.putSetting(ctx, settings.Repeat, enabled)
}

// SetAutoplay also evaluates autoplay right away.
func (c *Controller) SetAutoplay(ctx context.Context, enabled bool) error {
	if err := c.putSetting(ctx, settings.Autoplay, enabled); err != nil {
		return err
	}
	c.engine.autoplay(ctx, "")
	return nil
}

func (c *Controller) ShuffleAll(ctx context.Context) error {
	if err := c.engine.Queue.Shuffle(ctx); err != nil {
		return err
	}
	c.engine.publish()
	return nil
}

func (c *Controller) RemoveAll(ctx context.Context) error {
	if _, err := c.engine.Queue.RemoveAll(ctx); err != nil {
		return err
	}
	c.engine.publish()
	return nil
}

func (c *Controller) Prioritize(ctx context.Context, key int64) error {
	if err := c.engine.Queue.Prioritize(ctx, key); err != nil {
		return err
	}
	c.engine.publish()
	return nil
}

// Remove drops a queue entry. A song autoplay added becomes the new autoplay basis.
func (c *Controller) Remove(ctx context.Context, key int64) error {
	removed, err := c.engine.Queue.Remove(ctx, key)
	if err != nil {
		return err
	}
	c.rebaseAutoplay(ctx, removed)
	c.engine.publish()
	return nil
}

// Reorder moves key between prev and next. Either neighbour may be nil.
func (c *Controller) Reorder(ctx context.Context, prev *int64, key int64, next *int64) error {
	if err := c.engine.Queue.Reorder(ctx, prev, key, next); err != nil {
		return err
	}
	c.engine.publish()
	return nil
}

// Vote changes the votes of a queue entry, or of the current song when it came from that
// entry. Entries voted down to -downvotes_to_kick are removed; the current song is skipped.
func (c *Controller) Vote(ctx context.Context, key int64, amount int) error {
	if amount < -2 || amount > 2 || amount == 0 {
		return eris.Wrapf(ErrInvalidVote, "got %d", amount)
	}
	threshold := -settings.MustGet(ctx, c.engine.Settings, settings.DownvotesToKick)

	kick := false
	_, err := c.engine.Queue.UpdateCurrent(ctx, func(cur *queue.Current) {
		if cur.QueueKey != key {
			return
		}
		cur.Votes += amount
		kick = cur.Votes <= threshold
	})
	if err != nil {
		return err
	}
	if kick {
		c.logger.Info("current song voted out", slog.Int64("key", key))
		if err := c.Skip(ctx); err != nil {
			c.logger.Warn("could not skip voted out song", slog.Any("error", err))
		}
	}

	removed, err := c.engine.Queue.Vote(ctx, key, amount, threshold)
	if err != nil {
		return err
	}
	if removed != nil {
		c.logger.Info("song voted out", slog.String("title", removed.Title))
		c.rebaseAutoplay(ctx, *removed)
	}
	c.engine.publish()
	return nil
}

// TriggerAlarm is the buzzer.
func (c *Controller) TriggerAlarm(ctx context.Context) bool {
	return c.engine.TriggerAlarm(ctx)
}

func (c *Controller) rebaseAutoplay(ctx context.Context, removed queue.Entry) {
	if removed.ManuallyRequested {
		c.engine.autoplay(ctx, "")
		return
	}
	url := removed.ExternalURL
	if url == "" {
		url = removed.Title
	}
	c.engine.autoplay(ctx, url)
}

func (c *Controller) command(ctx context.Context, fn func(context.Context, player.Player) error) error {
	err := c.engine.Guard.Do(ctx, fn)
	if err != nil {
		c.logger.Warn("player command failed", slog.Any("error", err))
	}
	return err
}

// updateCurrent applies fn to the current song even when the player command failed, so the
// bookkeeping follows what the user asked for.
func (c *Controller) updateCurrent(ctx context.Context, cmdErr error, fn func(*queue.Current)) error {
	_, err := c.engine.Queue.UpdateCurrent(ctx, fn)
	c.engine.publish()
	return firstErr(cmdErr, err)
}

func (c *Controller) setPaused(ctx context.Context, paused bool) error {
	bus.Put(c.engine.Bus, bus.Paused, paused)
	return settings.Put(ctx, c.engine.Settings, settings.Paused, paused)
}

func (c *Controller) setPlayerVolume(ctx context.Context, volume float64) error {
	return c.command(ctx, func(ctx context.Context, p player.Player) error {
		return p.SetVolume(ctx, int(math.Round(volume*100)))
	})
}

func (c *Controller) putSetting(ctx context.Context, key settings.Key[bool], value bool) error {
	if err := settings.Put(ctx, c.engine.Settings, key, value); err != nil {
		return err
	}
	c.engine.publish()
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
