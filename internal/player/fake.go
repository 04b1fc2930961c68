package player

import (
	"context"
	"slices"
	"sync"
	"time"
)

type FakeOptions struct {
	// NoAck makes Play succeed without ever announcing a start, like a wedged player.
	NoAck bool
}

// Fake is an in-memory player. It keeps a tracklist and transport state but produces no
// sound; the engine's own timekeeping decides when songs end.
type Fake struct {
	mu        sync.Mutex
	noAck     bool
	failure   error
	tracklist []string
	consume   bool
	state     State
	position  time.Duration
	volume    int
	calls     []string
	started   chan struct{}
}

func NewFake(opts FakeOptions) *Fake {
	return &Fake{
		noAck:   opts.NoAck,
		state:   StateStopped,
		volume:  100,
		started: make(chan struct{}, 1),
	}
}

// SetNoAck toggles whether Play acknowledges starts.
func (f *Fake) SetNoAck(noAck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noAck = noAck
}

// SetFailure makes every following command return err. A nil err heals the player.
func (f *Fake) SetFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
}

// Calls returns the commands received so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *Fake) Tracklist() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tracklist)
}

// Finish ends the current track as if it played to completion.
func (f *Fake) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceLocked()
}

func (f *Fake) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failure
}

func (f *Fake) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("clear"); err != nil {
		return err
	}
	f.tracklist = nil
	f.state = StateStopped
	f.position = 0
	return nil
}

func (f *Fake) Add(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("add " + uri); err != nil {
		return err
	}
	f.tracklist = append(f.tracklist, uri)
	return nil
}

func (f *Fake) SetConsume(_ context.Context, consume bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("consume"); err != nil {
		return err
	}
	f.consume = consume
	return nil
}

func (f *Fake) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("play"); err != nil {
		return err
	}
	if len(f.tracklist) == 0 {
		f.state = StateStopped
		return nil
	}
	wasPaused := f.state == StatePaused
	f.state = StatePlaying
	if !f.noAck && !wasPaused {
		notify(f.started)
	}
	return nil
}

func (f *Fake) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pause"); err != nil {
		return err
	}
	if f.state == StatePlaying {
		f.state = StatePaused
	}
	return nil
}

func (f *Fake) Seek(_ context.Context, position time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("seek"); err != nil {
		return err
	}
	f.position = max(position, 0)
	return nil
}

func (f *Fake) Next(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("next"); err != nil {
		return err
	}
	f.advanceLocked()
	return nil
}

func (f *Fake) State(context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return StateStopped, f.failure
	}
	return f.state, nil
}

func (f *Fake) Position(context.Context) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return 0, f.failure
	}
	return f.position, nil
}

func (f *Fake) Volume(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return 0, f.failure
	}
	return f.volume, nil
}

func (f *Fake) SetVolume(_ context.Context, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("volume"); err != nil {
		return err
	}
	f.volume = percent
	return nil
}

func (f *Fake) Started() <-chan struct{} {
	return f.started
}

func (f *Fake) Close() error {
	return nil
}

func (f *Fake) advanceLocked() {
	f.position = 0
	if len(f.tracklist) > 0 && f.consume {
		f.tracklist = f.tracklist[1:]
	}
	if len(f.tracklist) == 0 || !f.consume {
		f.state = StateStopped
		return
	}
	f.state = StatePlaying
	if !f.noAck {
		notify(f.started)
	}
}
