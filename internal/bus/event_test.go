package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitReturnsImmediatelyWhenSet(t *testing.T) {
	ev := NewEvent()
	ev.Set()
	ev.Set()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, ev.Wait(ctx))
	assert.True(t, ev.IsSet())
}

func TestSetWakesAllWaiters(t *testing.T) {
	ev := NewEvent()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ev.Wait(context.Background())
		}()
	}

	time.Sleep(10 * time.Millisecond)
	ev.Set()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestClearRearms(t *testing.T) {
	ev := NewEvent()
	ev.Set()
	ev.Clear()
	assert.False(t, ev.IsSet())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ev.Wait(ctx), context.DeadlineExceeded)
}

func TestNamedEventsAreShared(t *testing.T) {
	b := NewMemory(nil)
	b.Event(LightsActive).Set()
	assert.True(t, b.Event(LightsActive).IsSet())
	assert.False(t, b.Event(QueueChanged).IsSet())
}
