package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/cybre/ravebox/internal/bus"
)

// Message types.
const (
	TypeInit  = "state_init"
	TypeState = "state"
)

const (
	// coalesceWindow bounds how often bursts of state changes are broadcast.
	coalesceWindow  = 50 * time.Millisecond
	snapshotTimeout = time.Second
	shutdownTimeout = 2 * time.Second
)

// envelope is the wire format of every message.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func encode(typ string, data any) ([]byte, error) {
	now := time.Now().UTC()
	msg, err := json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
	if err != nil {
		return nil, eris.Wrapf(err, "encode %s message", typ)
	}
	return msg, nil
}

// Snapshots builds the state sent to clients.
type Snapshots interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Toucher records the activity of a client address.
type Toucher interface {
	Touch(addr string)
}

type Options struct {
	Logger    *slog.Logger
	Bus       bus.Bus
	Snapshots Snapshots
	// Users is touched on connect and on every pong so connected clients stay active users.
	Users Toucher
	Hub   HubOptions
}

// Server pushes state snapshots to websocket clients.
type Server struct {
	logger    *slog.Logger
	snapshots Snapshots
	users     Toucher
	hub       *Hub
	upgrader  websocket.Upgrader
	sub       *bus.Subscription
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		snapshots: opts.Snapshots,
		users:     opts.Users,
		hub:       NewHub(logger, opts.Hub),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sub: opts.Bus.Subscribe(bus.StateChanged),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register installs the websocket handler on mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, s.handle)
}

// Run serves the state feed on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	s.Register(mux, path)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return s.Broadcast(ctx)
	})
	g.Go(func() error {
		s.logger.Info("serving state feed", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "serve state feed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "shut down state feed")
		}
		return ctx.Err()
	})
	return g.Wait()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("state upgrade failed", "error", err)
		return
	}

	addr := clientAddr(r)
	var touch func(string)
	if s.users != nil {
		s.users.Touch(addr)
		touch = s.users.Touch
	}
	client := newClient(s.hub, conn, addr, touch)

	// The initial snapshot is queued before the client can receive broadcasts.
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()
	initMsg, err := s.message(ctx, TypeInit)
	if err != nil {
		s.logger.Warn("building initial state failed", "error", err)
		_ = conn.Close()
		return
	}
	client.send <- initMsg
	s.hub.register <- client

	// The pumps outlive the request. The hub and connection errors end them.
	go client.writePump()
	go client.readPump()
}

func (s *Server) message(ctx context.Context, typ string) ([]byte, error) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return encode(typ, snap)
}

// Broadcast sends a state message after every state change until ctx is canceled. Changes
// arriving within the coalescing window share one message.
func (s *Server) Broadcast(ctx context.Context) error {
	defer s.sub.Close()

	var tick <-chan time.Time
	pending := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reason, ok := <-s.sub.C():
			if !ok {
				return nil
			}
			s.logger.Debug("state changed", "reason", reason)
			if tick == nil {
				s.send(ctx)
				tick = time.After(coalesceWindow)
				continue
			}
			pending = true

		case <-tick:
			tick = nil
			if pending {
				pending = false
				s.send(ctx)
				tick = time.After(coalesceWindow)
			}
		}
	}
}

func (s *Server) send(ctx context.Context) {
	if s.hub.Clients() == 0 {
		return
	}
	msg, err := s.message(ctx, TypeState)
	if err != nil {
		s.logger.Warn("building state failed", "error", err)
		return
	}
	s.hub.Broadcast(msg)
}

// clientAddr is the host part of the remote address, so reconnecting clients count once.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
