package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsDefaults(t *testing.T) {
	b := NewMemory(nil)

	assert.Equal(t, "fake", Get(b, ActivePlayer))
	assert.False(t, Get(b, Playing))
	assert.Equal(t, 10*time.Second, Get(b, AlarmDuration))
	assert.True(t, Get(b, LastBuzzer).IsZero())
	assert.Nil(t, Get(b, LEDPrograms))
}

func TestPutAndGet(t *testing.T) {
	b := NewMemory(nil)

	Put(b, Playing, true)
	Put(b, CurrentFPS, 29.5)
	Put(b, Initialized("ring"), true)

	assert.True(t, Get(b, Playing))
	assert.Equal(t, 29.5, Get(b, CurrentFPS))
	assert.True(t, Get(b, Initialized("ring")))
	assert.False(t, Get(b, Initialized("wled")))
}

func TestMistypedValueYieldsDefault(t *testing.T) {
	b := NewMemory(nil)
	b.Store(Playing.Name, "yes", 0)
	assert.False(t, Get(b, Playing))
}

func TestPutTTLExpires(t *testing.T) {
	b := NewMemory(nil)
	PutTTL(b, AlarmRequested, true, 20*time.Millisecond)
	assert.True(t, Get(b, AlarmRequested))

	assert.Eventually(t, func() bool {
		return !Get(b, AlarmRequested)
	}, time.Second, 5*time.Millisecond)
}

func TestResetClearsValues(t *testing.T) {
	b := NewMemory(nil)
	Put(b, PlaybackError, true)
	ev := b.Event(QueueChanged)

	b.Reset()

	assert.False(t, Get(b, PlaybackError))
	assert.Same(t, ev, b.Event(QueueChanged))
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewMemory(nil)
	first := b.Subscribe(LightsSettingsChanged)
	second := b.Subscribe(LightsSettingsChanged)
	other := b.Subscribe(StateChanged)
	defer first.Close()
	defer second.Close()
	defer other.Close()

	b.Publish(LightsSettingsChanged, "ring")

	assert.Equal(t, "ring", <-first.C())
	assert.Equal(t, "ring", <-second.C())
	assert.Empty(t, other.C())
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	b := NewMemory(nil)
	sub := b.Subscribe(StateChanged)
	sub.Close()
	sub.Close()

	b.Publish(StateChanged, "x")

	_, ok, err := sub.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestLaggingSubscriberKeepsNewestMessages(t *testing.T) {
	b := NewMemory(nil)
	sub := b.Subscribe(StateChanged)
	defer sub.Close()

	for i := 0; i < subscriptionBuffer+1; i++ {
		b.Publish(StateChanged, string(rune('a'+i%26)))
	}

	assert.Len(t, sub.C(), subscriptionBuffer)
	var last string
	for len(sub.C()) > 0 {
		last = <-sub.C()
	}
	assert.Equal(t, string(rune('a'+subscriptionBuffer%26)), last)
}

func TestNextHonoursContext(t *testing.T) {
	b := NewMemory(nil)
	sub := b.Subscribe(StateChanged)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
