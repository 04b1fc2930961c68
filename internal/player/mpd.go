package player

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rotisserie/eris"
)

type MPDOptions struct {
	Network  string
	Addr     string
	Password string
	Logger   *slog.Logger
}

// MPD drives a Music Player Daemon. The command connection is re-dialed after a failure so
// an MPD restart only costs the commands issued while it was down. A separate idle watcher
// turns player events into start notifications.
type MPD struct {
	opts   MPDOptions
	logger *slog.Logger

	mu      sync.Mutex
	client  *mpd.Client
	watcher *mpd.Watcher
	last    State

	started chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// DialMPD connects to MPD and starts watching the player subsystem.
func DialMPD(ctx context.Context, opts MPDOptions) (*MPD, error) {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &MPD{
		opts:    opts,
		logger:  opts.Logger,
		last:    StateStopped,
		started: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	if _, err := m.conn(); err != nil {
		return nil, err
	}

	watcher, err := mpd.NewWatcher(opts.Network, opts.Addr, opts.Password, "player")
	if err != nil {
		m.closeClient()
		return nil, eris.Wrap(err, "watch mpd player events")
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watch(ctx)

	return m, nil
}

func (m *MPD) watch(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case err, ok := <-m.watcher.Error:
			if !ok {
				return
			}
			m.logger.Warn("mpd watcher error", slog.Any("error", err))
		case _, ok := <-m.watcher.Event:
			if !ok {
				return
			}
			state, err := m.probeState()
			if err != nil {
				m.logger.Debug("mpd status after idle event failed", slog.Any("error", err))
				continue
			}
			m.mu.Lock()
			previous := m.last
			m.last = state
			m.mu.Unlock()
			if state == StatePlaying && previous != StatePaused {
				notify(m.started)
			}
		}
	}
}

// probeState reads the player state over a short-lived connection so the watcher never
// interleaves with commands on the shared one.
func (m *MPD) probeState() (State, error) {
	client, err := m.dial()
	if err != nil {
		return StateStopped, err
	}
	defer client.Close()

	attrs, err := client.Status()
	if err != nil {
		return StateStopped, eris.Wrap(err, "mpd status")
	}
	return parseState(attrs), nil
}

func (m *MPD) dial() (*mpd.Client, error) {
	var (
		client *mpd.Client
		err    error
	)
	if m.opts.Password != "" {
		client, err = mpd.DialAuthenticated(m.opts.Network, m.opts.Addr, m.opts.Password)
	} else {
		client, err = mpd.Dial(m.opts.Network, m.opts.Addr)
	}
	if err != nil {
		return nil, eris.Wrapf(ErrUnreachable, "dial mpd at %s: %v", m.opts.Addr, err)
	}
	return client, nil
}

func (m *MPD) conn() (*mpd.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	client, err := m.dial()
	if err != nil {
		return nil, err
	}
	m.client = client
	return client, nil
}

// do runs fn on the command connection and drops the connection when fn fails so the next
// command reconnects.
func (m *MPD) do(op string, fn func(*mpd.Client) error) error {
	client, err := m.conn()
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		m.closeClient()
		return eris.Wrapf(err, "mpd %s", op)
	}
	return nil
}

func (m *MPD) closeClient() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
}

func (m *MPD) Clear(context.Context) error {
	return m.do("clear", func(c *mpd.Client) error { return c.Clear() })
}

func (m *MPD) Add(_ context.Context, uri string) error {
	return m.do("add", func(c *mpd.Client) error { return c.Add(uri) })
}

func (m *MPD) SetConsume(_ context.Context, consume bool) error {
	return m.do("consume", func(c *mpd.Client) error { return c.Consume(consume) })
}

func (m *MPD) Play(context.Context) error {
	return m.do("play", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		if State(attrs["state"]) == StatePaused {
			return c.Pause(false)
		}
		return c.Play(-1)
	})
}

func (m *MPD) Pause(context.Context) error {
	return m.do("pause", func(c *mpd.Client) error { return c.Pause(true) })
}

func (m *MPD) Seek(_ context.Context, position time.Duration) error {
	return m.do("seek", func(c *mpd.Client) error {
		return c.SeekCur(max(position, 0), false)
	})
}

func (m *MPD) Next(context.Context) error {
	return m.do("next", func(c *mpd.Client) error { return c.Next() })
}

func (m *MPD) State(context.Context) (State, error) {
	var state State
	err := m.do("status", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		state = parseState(attrs)
		return nil
	})
	return state, err
}

func (m *MPD) Position(context.Context) (time.Duration, error) {
	var position time.Duration
	err := m.do("status", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		position = parseElapsed(attrs)
		return nil
	})
	return position, err
}

func (m *MPD) Volume(context.Context) (int, error) {
	var volume int
	err := m.do("status", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		volume = parseVolume(attrs)
		return nil
	})
	return volume, err
}

func (m *MPD) SetVolume(_ context.Context, percent int) error {
	return m.do("setvol", func(c *mpd.Client) error { return c.SetVolume(percent) })
}

func (m *MPD) Started() <-chan struct{} {
	return m.started
}

func (m *MPD) Close() error {
	close(m.done)
	var err error
	if m.watcher != nil {
		err = m.watcher.Close()
	}
	m.wg.Wait()
	m.closeClient()
	return err
}

func parseState(attrs mpd.Attrs) State {
	switch State(attrs["state"]) {
	case StatePlaying:
		return StatePlaying
	case StatePaused:
		return StatePaused
	default:
		return StateStopped
	}
}

func parseElapsed(attrs mpd.Attrs) time.Duration {
	seconds, err := strconv.ParseFloat(attrs["elapsed"], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// parseVolume returns 0 when MPD has no mixer and reports -1.
func parseVolume(attrs mpd.Attrs) int {
	volume, err := strconv.Atoi(attrs["volume"])
	if err != nil || volume < 0 {
		return 0
	}
	return volume
}
