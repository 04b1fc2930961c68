package playback

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/player"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
)

// AlarmURL marks the queue entry that wakes the loop to play an alarm.
const AlarmURL = "alarm"

// AlarmMetadata describes the alarm queue entry.
func AlarmMetadata() queue.Metadata {
	return queue.Metadata{
		Artist:      "Ravebox",
		Title:       "ALARM!",
		Duration:    bus.AlarmDuration.Default.Seconds(),
		InternalURL: AlarmURL,
		ExternalURL: "ravebox:alarm",
	}
}

// TriggerAlarm requests an alarm. A playing song is interrupted and resumed afterwards;
// otherwise the alarm is queued. It reports false when the buzzer is cooling down or an
// alarm is already underway.
func (e *Engine) TriggerAlarm(ctx context.Context) bool {
	now := e.now()
	cooldown := seconds(settings.MustGet(ctx, e.Settings, settings.BuzzerCooldown))
	if now.Sub(bus.Get(e.Bus, bus.LastBuzzer)) < cooldown {
		e.logger.Warn("alarm triggered too quickly")
		return false
	}
	if bus.Get(e.Bus, bus.AlarmPlaying) || bus.Get(e.Bus, bus.AlarmRequested) {
		e.logger.Warn("last alarm not yet finished")
		return false
	}
	bus.Put(e.Bus, bus.LastBuzzer, now)

	if bus.Get(e.Bus, bus.Playing) {
		bus.Put(e.Bus, bus.AlarmRequested, true)
		return true
	}
	if _, err := e.Queue.Enqueue(ctx, AlarmMetadata(), true, 0, false); err != nil {
		e.logger.Error("could not queue alarm", slog.Any("error", err))
		return false
	}
	e.Bus.Event(bus.QueueChanged).Set()
	return true
}

// playAlarm plays the alarm sound and blocks for its length. interrupt clears whatever the
// player was doing.
func (e *Engine) playAlarm(ctx context.Context, interrupt, fromBuzzer bool) {
	bus.Put(e.Bus, bus.AlarmPlaying, true)
	e.Bus.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStarted)
	defer func() {
		e.Bus.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStopped)
		bus.Put(e.Bus, bus.AlarmPlaying, false)
		if !interrupt {
			e.publish()
		}
	}()

	path := e.alarmSound(ctx, fromBuzzer)
	logger := e.logger.With(slog.String("sound", path))

	duration := bus.AlarmDuration.Default
	if d, err := e.probe(path); err != nil {
		logger.Warn("could not read alarm length", slog.Any("error", err))
	} else {
		duration = d
	}
	bus.Put(e.Bus, bus.AlarmDuration, duration)

	err := e.Guard.DoImportant(ctx, func(ctx context.Context, p player.Player) error {
		if interrupt {
			if err := p.Clear(ctx); err != nil {
				return err
			}
		}
		if err := p.Add(ctx, player.FileURI(path)); err != nil {
			return err
		}
		player.DrainStarted(p)
		if err := p.Play(ctx); err != nil {
			return err
		}
		if err := e.awaitStart(ctx, p); err != nil {
			logger.Debug("alarm start not acknowledged", slog.Any("error", err))
		}
		return nil
	})
	if err != nil {
		logger.Warn("could not play alarm", slog.Any("error", err))
	}
	e.publish()

	logger.Info("alarm", slog.Duration("duration", duration), slog.Bool("interrupt", interrupt))
	_ = sleep(ctx, duration)
}

// alarmSound picks the file to play. Buzzer alarms draw a random answer from the yes or no
// folder when a success probability is configured.
func (e *Engine) alarmSound(ctx context.Context, fromBuzzer bool) string {
	probability := settings.MustGet(ctx, e.Settings, settings.BuzzerSuccessProbability)
	if probability < 0 || !fromBuzzer {
		return e.opts.Sounds.Alarm
	}

	dir := e.opts.Sounds.BuzzerNo
	if rand.Float64() <= probability {
		dir = e.opts.Sounds.BuzzerYes
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger.Warn("could not read buzzer sounds", slog.String("dir", dir), slog.Any("error", err))
		return e.opts.Sounds.Alarm
	}
	files := lo.Filter(entries, func(entry os.DirEntry, _ int) bool {
		return !entry.IsDir() && player.SupportedExtension(filepath.Ext(entry.Name()))
	})
	if len(files) == 0 {
		return e.opts.Sounds.Alarm
	}
	return filepath.Join(dir, lo.Sample(files).Name())
}
