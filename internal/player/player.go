package player

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

var (
	ErrNotStarted  = eris.New("player did not acknowledge playback start")
	ErrUnreachable = eris.New("player unreachable")
)

// State is the transport state reported by a player.
type State string

const (
	StatePlaying State = "play"
	StatePaused  State = "pause"
	StateStopped State = "stop"
)

// Player is the control surface of an external media player. Implementations do not need
// to handle concurrent commands; callers serialize access through a Guard.
type Player interface {
	Clear(ctx context.Context) error
	Add(ctx context.Context, uri string) error
	// SetConsume makes finished tracks drop off the tracklist.
	SetConsume(ctx context.Context, consume bool) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	Next(ctx context.Context) error
	State(ctx context.Context) (State, error)
	Position(ctx context.Context) (time.Duration, error)
	// Volume is reported and set in percent.
	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, percent int) error
	// Started receives a value whenever a track begins playing. Sends are coalesced.
	Started() <-chan struct{}
	Close() error
}

// DrainStarted discards a pending start notification so the next receive observes a fresh
// start.
func DrainStarted(p Player) {
	select {
	case <-p.Started():
	default:
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
