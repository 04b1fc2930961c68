package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/bus"
)

const DefaultLockTimeout = 3 * time.Second

type GuardOptions struct {
	// Timeout bounds how long ordinary commands wait for the player.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Guard serializes every command sent to the single player connection. Ordinary callers
// give up after a timeout instead of stalling their loop; important callers wait. Failures
// raise the playback error flag on the bus and the next successful command clears it.
type Guard struct {
	player  Player
	bus     bus.Bus
	timeout time.Duration
	logger  *slog.Logger
	sem     chan struct{}
}

func NewGuard(p Player, b bus.Bus, opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{
		player:  p,
		bus:     b,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		sem:     make(chan struct{}, 1),
	}
}

// Do runs fn with exclusive player access, waiting at most the guard timeout.
func (g *Guard) Do(ctx context.Context, fn func(context.Context, Player) error) error {
	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case g.sem <- struct{}{}:
	case <-timer.C:
		g.logger.Warn("player command could not be executed")
		g.SetError(true)
		return eris.Wrap(ErrUnreachable, "player busy")
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.run(ctx, fn)
}

// DoImportant runs fn with exclusive player access, waiting as long as ctx allows.
func (g *Guard) DoImportant(ctx context.Context, fn func(context.Context, Player) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.run(ctx, fn)
}

func (g *Guard) run(ctx context.Context, fn func(context.Context, Player) error) error {
	defer func() { <-g.sem }()

	err := fn(ctx, g.player)
	switch {
	case err == nil:
		g.SetError(false)
	case eris.Is(err, context.Canceled):
	default:
		g.SetError(true)
	}
	return err
}

// SetError updates the playback error flag and announces a change.
func (g *Guard) SetError(failed bool) {
	if bus.Get(g.bus, bus.PlaybackError) == failed {
		return
	}
	bus.Put(g.bus, bus.PlaybackError, failed)
	g.bus.Publish(bus.StateChanged, "playback_error")
}
