//go:build (linux && cgo) || windows || darwin

package player

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rotisserie/eris"
)

// LocalAvailable reports whether this build can play sound itself.
const LocalAvailable = true

type LocalOptions struct {
	SampleRate int
	Logger     *slog.Logger
}

// Local plays files on the machine's own sound card. It mimics the tracklist model of a
// daemon player: tracks are queued, the head plays, and with consume on finished tracks are
// dropped and the next one starts.
type Local struct {
	logger     *slog.Logger
	sampleRate beep.SampleRate

	mu         sync.Mutex
	tracklist  []string
	consume    bool
	state      State
	percent    int
	streamer   beep.StreamSeekCloser
	format     beep.Format
	ctrl       *beep.Ctrl
	volume     *effects.Volume
	generation int

	started chan struct{}
}

// NewLocal initializes the speaker.
func NewLocal(opts LocalOptions) (Player, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sampleRate := beep.SampleRate(opts.SampleRate)
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return nil, eris.Wrap(err, "initialize speaker")
	}

	return &Local{
		logger:     opts.Logger,
		sampleRate: sampleRate,
		state:      StateStopped,
		percent:    100,
		started:    make(chan struct{}, 1),
	}, nil
}

func (l *Local) Clear(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.tracklist = nil
	return nil
}

func (l *Local) Add(_ context.Context, uri string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracklist = append(l.tracklist, uri)
	return nil
}

func (l *Local) SetConsume(_ context.Context, consume bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consume = consume
	return nil
}

func (l *Local) Play(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StatePaused && l.ctrl != nil {
		speaker.Lock()
		l.ctrl.Paused = false
		speaker.Unlock()
		l.state = StatePlaying
		return nil
	}
	if l.state == StatePlaying {
		return nil
	}
	return l.playLocked()
}

func (l *Local) Pause(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctrl == nil || l.state != StatePlaying {
		return nil
	}
	speaker.Lock()
	l.ctrl.Paused = true
	speaker.Unlock()
	l.state = StatePaused
	return nil
}

func (l *Local) Seek(_ context.Context, position time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamer == nil {
		return nil
	}

	speaker.Lock()
	defer speaker.Unlock()
	target := l.format.SampleRate.N(max(position, 0))
	target = min(target, l.streamer.Len())
	if err := l.streamer.Seek(target); err != nil {
		return eris.Wrap(err, "seek")
	}
	return nil
}

func (l *Local) Next(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	if len(l.tracklist) > 0 {
		l.tracklist = l.tracklist[1:]
	}
	return l.playLocked()
}

func (l *Local) State(context.Context) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, nil
}

func (l *Local) Position(context.Context) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamer == nil {
		return 0, nil
	}
	speaker.Lock()
	position := l.streamer.Position()
	speaker.Unlock()
	return l.format.SampleRate.D(position), nil
}

func (l *Local) Volume(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.percent, nil
}

func (l *Local) SetVolume(_ context.Context, percent int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.percent = min(max(percent, 0), 100)
	if l.volume != nil {
		speaker.Lock()
		applyVolume(l.volume, l.percent)
		speaker.Unlock()
	}
	return nil
}

func (l *Local) Started() <-chan struct{} {
	return l.started
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return nil
}

func (l *Local) playLocked() error {
	if len(l.tracklist) == 0 {
		l.state = StateStopped
		return nil
	}

	path, err := PathFromURI(l.tracklist[0])
	if err != nil {
		return err
	}
	streamer, format, err := Decode(path)
	if err != nil {
		return err
	}

	l.streamer = streamer
	l.format = format
	l.ctrl = &beep.Ctrl{Streamer: beep.Resample(4, format.SampleRate, l.sampleRate, streamer)}
	l.volume = &effects.Volume{Streamer: l.ctrl, Base: 2}
	applyVolume(l.volume, l.percent)
	l.generation++
	generation := l.generation

	speaker.Play(beep.Seq(l.volume, beep.Callback(func() {
		// the speaker lock is held inside callbacks
		go l.finished(generation)
	})))

	l.state = StatePlaying
	notify(l.started)
	l.logger.Debug("local playback started", slog.String("path", path))
	return nil
}

func (l *Local) finished(generation int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if generation != l.generation {
		return
	}

	l.stopLocked()
	if !l.consume {
		return
	}
	if len(l.tracklist) > 0 {
		l.tracklist = l.tracklist[1:]
	}
	if err := l.playLocked(); err != nil {
		l.logger.Warn("could not continue with next track", slog.Any("error", err))
	}
}

func (l *Local) stopLocked() {
	if l.streamer != nil {
		speaker.Clear()
		_ = l.streamer.Close()
	}
	l.generation++
	l.streamer = nil
	l.ctrl = nil
	l.volume = nil
	l.state = StateStopped
}

func applyVolume(v *effects.Volume, percent int) {
	if percent <= 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(float64(percent) / 100)
}
