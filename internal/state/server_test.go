package state

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/ravebox/internal/bus"
)

type countingSnapshots struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSnapshots) Snapshot(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return Snapshot{ActiveUsers: s.calls}, nil
}

type recordingUsers struct {
	mu      sync.Mutex
	touched []string
}

func (u *recordingUsers) Touch(addr string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.touched = append(u.touched, addr)
}

func (u *recordingUsers) addrs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.touched...)
}

type received struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data Snapshot  `json:"data"`
}

func startServer(t *testing.T, b bus.Bus, users Toucher) (*Server, string) {
	t.Helper()
	s := NewServer(Options{Bus: b, Snapshots: &countingSnapshots{}, Users: users})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Hub().Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = s.Broadcast(ctx)
	}()

	mux := http.NewServeMux()
	s.Register(mux, "/state")
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		srv.Close()
	})
	return s, "ws" + strings.TrimPrefix(srv.URL, "http") + "/state"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg received
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestServerSendsInitialState(t *testing.T) {
	users := &recordingUsers{}
	_, url := startServer(t, bus.NewMemory(nil), users)

	msg := read(t, dial(t, url))
	assert.Equal(t, TypeInit, msg.Type)
	assert.False(t, msg.Ts.IsZero())
	assert.Equal(t, 1, msg.Data.ActiveUsers)
	assert.Equal(t, []string{"127.0.0.1"}, users.addrs())
}

func TestServerBroadcastsStateChanges(t *testing.T) {
	b := bus.NewMemory(nil)
	s, url := startServer(t, b, nil)
	conn := dial(t, url)
	require.Equal(t, TypeInit, read(t, conn).Type)
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, time.Millisecond)

	b.Publish(bus.StateChanged, "musiq")
	msg := read(t, conn)
	assert.Equal(t, TypeState, msg.Type)
	assert.Equal(t, 2, msg.Data.ActiveUsers)
}

func TestServerCoalescesBursts(t *testing.T) {
	b := bus.NewMemory(nil)
	s, url := startServer(t, b, nil)
	conn := dial(t, url)
	read(t, conn)
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, time.Millisecond)

	for range 20 {
		b.Publish(bus.StateChanged, "lights")
	}
	// the first change is sent at once, the rest of the burst in one trailing message
	assert.Equal(t, TypeState, read(t, conn).Type)
	assert.Equal(t, TypeState, read(t, conn).Type)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(4*coalesceWindow)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no further messages")
}

func TestServerSkipsSnapshotsWithoutClients(t *testing.T) {
	b := bus.NewMemory(nil)
	snapshots := &countingSnapshots{}
	s := NewServer(Options{Bus: b, Snapshots: snapshots})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Broadcast(ctx) }()

	b.Publish(bus.StateChanged, "queue")
	time.Sleep(2 * coalesceWindow)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	snapshots.mu.Lock()
	defer snapshots.mu.Unlock()
	assert.Zero(t, snapshots.calls)
}

func TestServerTouchesOnClientMessages(t *testing.T) {
	users := &recordingUsers{}
	_, url := startServer(t, bus.NewMemory(nil), users)
	conn := dial(t, url)
	read(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Eventually(t, func() bool { return len(users.addrs()) == 2 }, time.Second, time.Millisecond)
}
