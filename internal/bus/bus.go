package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is the process-wide signal surface shared by the playback and lights loops: a typed
// key-value store for ephemeral run state, string channels for notifications, and named
// events loops can block on.
type Bus interface {
	Load(key string) (any, bool)
	Store(key string, value any, ttl time.Duration)
	Delete(key string)
	Publish(channel, message string)
	Subscribe(channel string) *Subscription
	Event(name string) *Event
}

const subscriptionBuffer = 64

type entry struct {
	value   any
	expires time.Time
}

// Memory is an in-process Bus.
type Memory struct {
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]entry
	subs   map[string]map[uuid.UUID]*Subscription
	events map[string]*Event
}

// NewMemory creates an empty bus. A nil logger falls back to the default logger.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		logger: logger,
		values: make(map[string]entry),
		subs:   make(map[string]map[uuid.UUID]*Subscription),
		events: make(map[string]*Event),
	}
}

func (m *Memory) Load(key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		m.mu.Lock()
		if cur, ok := m.values[key]; ok && cur.expires.Equal(e.expires) {
			delete(m.values, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Store sets key. A positive ttl makes the value disappear after that long.
func (m *Memory) Store(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.values[key] = e
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

// Publish delivers message to every current subscriber of channel. A subscriber that
// stopped draining loses its oldest pending message.
func (m *Memory) Publish(channel, message string) {
	m.mu.RLock()
	targets := make([]*Subscription, 0, len(m.subs[channel]))
	for _, sub := range m.subs[channel] {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		if !sub.deliver(message) {
			m.logger.Warn("subscriber lagging, dropped message",
				slog.String("channel", channel),
				slog.String("subscription", sub.id.String()))
		}
	}
}

func (m *Memory) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		id:      uuid.New(),
		channel: channel,
		ch:      make(chan string, subscriptionBuffer),
		bus:     m,
	}

	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[uuid.UUID]*Subscription)
	}
	m.subs[channel][sub.id] = sub
	m.mu.Unlock()

	return sub
}

// Event returns the named event, creating it unset on first use.
func (m *Memory) Event(name string) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[name]
	if !ok {
		ev = NewEvent()
		m.events[name] = ev
	}
	return ev
}

// Reset forgets every stored value, like a worker restart would. Subscriptions and events
// survive so running loops keep their handles.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.values = make(map[string]entry)
	m.mu.Unlock()
}

func (m *Memory) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subs[sub.channel]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(m.subs, sub.channel)
		}
	}
}

// Subscription receives the messages published on one channel.
type Subscription struct {
	id      uuid.UUID
	channel string
	ch      chan string
	bus     *Memory

	mu     sync.Mutex
	closed bool
}

// C yields published messages. It is closed by Close.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Next blocks until a message arrives or ctx ends. ok is false once the subscription closed.
func (s *Subscription) Next(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case msg, ok := <-s.ch:
		return msg, ok, nil
	}
}

func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) deliver(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}

	select {
	case s.ch <- msg:
		return true
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- msg:
	default:
	}
	return false
}
