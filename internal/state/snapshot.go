package state

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
)

// Snapshot is the data payload of every state message.
type Snapshot struct {
	Musiq       Musiq  `json:"musiq"`
	Lights      Lights `json:"lights"`
	ActiveUsers int    `json:"active_users"`
}

type Musiq struct {
	Playing       bool         `json:"playing"`
	Paused        bool         `json:"paused"`
	AlarmPlaying  bool         `json:"alarm_playing"`
	PlaybackError bool         `json:"playback_error"`
	Volume        float64      `json:"volume"`
	Shuffle       bool         `json:"shuffle"`
	Repeat        bool         `json:"repeat"`
	Autoplay      bool         `json:"autoplay"`
	Current       *CurrentSong `json:"current,omitempty"`
	Queue         []Song       `json:"queue"`
}

type CurrentSong struct {
	QueueKey          int64   `json:"queue_key"`
	Artist            string  `json:"artist"`
	Title             string  `json:"title"`
	Duration          float64 `json:"duration"`
	Progress          float64 `json:"progress"`
	Votes             int     `json:"votes"`
	ManuallyRequested bool    `json:"manually_requested"`
	ExternalURL       string  `json:"external_url"`
}

type Song struct {
	Key               int64   `json:"key"`
	Index             int     `json:"index"`
	Artist            string  `json:"artist"`
	Title             string  `json:"title"`
	Duration          float64 `json:"duration"`
	Votes             int     `json:"votes"`
	Confirmed         bool    `json:"confirmed"`
	ManuallyRequested bool    `json:"manually_requested"`
}

type Lights struct {
	Active            bool              `json:"active"`
	LEDPrograms       []string          `json:"led_programs"`
	ScreenPrograms    []string          `json:"screen_programs"`
	Devices           map[string]Device `json:"devices"`
	UPS               float64           `json:"ups"`
	ProgramSpeed      float64           `json:"program_speed"`
	FixedColor        [3]float64        `json:"fixed_color"`
	DynamicResolution bool              `json:"dynamic_resolution"`
	FPS               float64           `json:"fps"`
	RenderScale       float64           `json:"render_scale"`
}

type Device struct {
	Program     string  `json:"program"`
	Brightness  float64 `json:"brightness"`
	Monochrome  bool    `json:"monochrome"`
	Initialized bool    `json:"initialized"`
}

// ProgramSource reports the program a device currently runs, which differs from the
// persisted one while an alarm overrides it.
type ProgramSource interface {
	ProgramOf(device string) string
}

// UserCounter counts the clients that interacted recently.
type UserCounter interface {
	ActiveUsers() int
}

// Snapshotter assembles snapshots from the shared stores.
type Snapshotter struct {
	Settings *settings.Store
	Bus      bus.Bus
	Queue    *queue.Store
	Programs ProgramSource
	Users    UserCounter
	Now      func() time.Time
}

// Snapshot reads the current state.
func (s *Snapshotter) Snapshot(ctx context.Context) (Snapshot, error) {
	musiq, err := s.musiq(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	lights, err := s.lights(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Musiq: musiq, Lights: lights}
	if s.Users != nil {
		snap.ActiveUsers = s.Users.ActiveUsers()
	}
	return snap, nil
}

func (s *Snapshotter) musiq(ctx context.Context) (Musiq, error) {
	m := Musiq{
		Playing:       bus.Get(s.Bus, bus.Playing),
		Paused:        bus.Get(s.Bus, bus.Paused),
		AlarmPlaying:  bus.Get(s.Bus, bus.AlarmPlaying),
		PlaybackError: bus.Get(s.Bus, bus.PlaybackError),
	}

	var err error
	if m.Volume, err = settings.Get(ctx, s.Settings, settings.Volume); err != nil {
		return Musiq{}, err
	}
	if m.Shuffle, err = settings.Get(ctx, s.Settings, settings.Shuffle); err != nil {
		return Musiq{}, err
	}
	if m.Repeat, err = settings.Get(ctx, s.Settings, settings.Repeat); err != nil {
		return Musiq{}, err
	}
	if m.Autoplay, err = settings.Get(ctx, s.Settings, settings.Autoplay); err != nil {
		return Musiq{}, err
	}

	current, err := s.Queue.Current(ctx)
	if err != nil {
		return Musiq{}, eris.Wrap(err, "snapshot current song")
	}
	if current != nil {
		m.Current = s.currentSong(*current, m.Paused)
	}

	entries, err := s.Queue.All(ctx)
	if err != nil {
		return Musiq{}, eris.Wrap(err, "snapshot queue")
	}
	m.Queue = lo.Map(entries, func(e queue.Entry, _ int) Song {
		return Song{
			Key:               e.ID,
			Index:             e.Index,
			Artist:            e.Artist,
			Title:             e.Title,
			Duration:          e.Duration,
			Votes:             e.Votes,
			Confirmed:         e.Confirmed(),
			ManuallyRequested: e.ManuallyRequested,
		}
	})
	return m, nil
}

// currentSong derives the progress from the creation time. While paused the clock stopped
// at the last pause.
func (s *Snapshotter) currentSong(c queue.Current, paused bool) *CurrentSong {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if paused {
		now = c.LastPaused
	}
	progress := min(max(now.Sub(c.Created).Seconds(), 0), c.Duration)

	return &CurrentSong{
		QueueKey:          c.QueueKey,
		Artist:            c.Artist,
		Title:             c.Title,
		Duration:          c.Duration,
		Progress:          progress,
		Votes:             c.Votes,
		ManuallyRequested: c.ManuallyRequested,
		ExternalURL:       c.ExternalURL,
	}
}

func (s *Snapshotter) lights(ctx context.Context) (Lights, error) {
	l := Lights{
		Active:         bus.Get(s.Bus, bus.LightsActiveFlag),
		LEDPrograms:    bus.Get(s.Bus, bus.LEDPrograms),
		ScreenPrograms: bus.Get(s.Bus, bus.ScreenPrograms),
		FPS:            bus.Get(s.Bus, bus.CurrentFPS),
		RenderScale:    bus.Get(s.Bus, bus.RenderScale),
		Devices:        make(map[string]Device, len(settings.Devices)),
	}

	var err error
	if l.UPS, err = settings.Get(ctx, s.Settings, settings.UPS); err != nil {
		return Lights{}, err
	}
	if l.ProgramSpeed, err = settings.Get(ctx, s.Settings, settings.ProgramSpeed); err != nil {
		return Lights{}, err
	}
	if l.FixedColor, err = settings.Get(ctx, s.Settings, settings.FixedColor); err != nil {
		return Lights{}, err
	}
	if l.DynamicResolution, err = settings.Get(ctx, s.Settings, settings.DynamicResolution); err != nil {
		return Lights{}, err
	}

	for _, name := range settings.Devices {
		d := Device{Initialized: bus.Get(s.Bus, bus.Initialized(name))}
		if d.Brightness, err = settings.Get(ctx, s.Settings, settings.Brightness(name)); err != nil {
			return Lights{}, err
		}
		if d.Monochrome, err = settings.Get(ctx, s.Settings, settings.Monochrome(name)); err != nil {
			return Lights{}, err
		}
		if s.Programs != nil {
			d.Program = s.Programs.ProgramOf(name)
		}
		if d.Program == "" {
			if d.Program, err = settings.Get(ctx, s.Settings, settings.Program(name)); err != nil {
				return Lights{}, err
			}
		}
		l.Devices[name] = d
	}
	return l, nil
}
