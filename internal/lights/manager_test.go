package lights

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/store"
	"github.com/cybre/ravebox/internal/ui"
)

const waitFor = 2 * time.Second

func newTestSettings(t *testing.T) (*settings.Store, *bus.Memory) {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })
	return settings.New(db, settings.Options{}), bus.NewMemory(nil)
}

// idleCapture delivers no audio until it is stopped.
func idleCapture(ctx context.Context, _ chan<- []float32) error {
	<-ctx.Done()
	return ctx.Err()
}

func testOptions(s *settings.Store, b bus.Bus) Options {
	return Options{
		Settings: s,
		Bus:      b,
		Feed:     FeedBuiltin,
		Builtin:  BuiltinOptions{Capture: idleCapture},
	}
}

// run starts m and returns a function stopping it and returning Run's error.
func run(t *testing.T, m *Manager) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()
	t.Cleanup(cancel)

	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(waitFor):
			t.Fatal("lights loop did not stop")
			return nil
		}
	}
}

func storedProgram(t *testing.T, s *settings.Store, device string) string {
	t.Helper()
	program, err := settings.Get(context.Background(), s, settings.Program(device))
	require.NoError(t, err)
	return program
}

type syncDisplay struct {
	mu      sync.Mutex
	frames  int
	stopped bool
	closed  bool
}

func (d *syncDisplay) Show(ui.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames++
}

func (d *syncDisplay) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *syncDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *syncDisplay) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

func (d *syncDisplay) state() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, d.closed
}

func TestManagerPublishesPrograms(t *testing.T) {
	s, b := newTestSettings(t)
	opts := testOptions(s, b)
	opts.Display = func() (Display, error) { return &syncDisplay{}, nil }
	opts.VideoPath = "/videos/LogoLoop.mp4"
	NewManager(context.Background(), opts)

	assert.Equal(t, []string{"Disabled", "Fixed", "Rainbow", "Rave"}, bus.Get(b, bus.LEDPrograms))
	assert.Equal(t, []string{"Disabled", "LogoLoop", "Pulse", "Spectrum"}, bus.Get(b, bus.ScreenPrograms))
	assert.True(t, bus.Get(b, bus.Initialized("screen")))
	assert.False(t, bus.Get(b, bus.Initialized("ring")))
}

func TestManagerWithoutAudioOffersNoRave(t *testing.T) {
	s, b := newTestSettings(t)
	opts := testOptions(s, b)
	opts.Builtin.Capture = nil
	opts.Display = func() (Display, error) { return &syncDisplay{}, nil }
	NewManager(context.Background(), opts)

	assert.Equal(t, []string{"Disabled", "Fixed", "Rainbow"}, bus.Get(b, bus.LEDPrograms))
	assert.Equal(t, []string{"Disabled"}, bus.Get(b, bus.ScreenPrograms))
}

func TestManagerRestoresPersistedProgram(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.Program("ring"), "Fixed"))
	require.NoError(t, settings.Put(ctx, s, settings.FixedColor, [3]float64{1, 0, 0}))

	pixels := &recordingPixels{}
	status := &recordingStatus{}
	opts := testOptions(s, b)
	opts.Ring, opts.StatusLED = pixels, status
	m := NewManager(ctx, opts)

	assert.Equal(t, "Fixed", m.ProgramOf("ring"))
	assert.True(t, bus.Get(b, bus.LightsActiveFlag))
	on, set := status.last()
	assert.True(t, set)
	assert.False(t, on, "the status led is off while the ring shows something")

	stop := run(t, m)
	assert.Eventually(t, func() bool {
		last := pixels.last()
		return len(last) == RingLEDCount && last[12] == [3]uint8{255, 0, 0}
	}, waitFor, 5*time.Millisecond)

	assert.True(t, eris.Is(stop(), context.Canceled))
	assert.Equal(t, make([][3]uint8, RingLEDCount), pixels.last(), "shutdown clears the ring")
	on, _ = status.last()
	assert.True(t, on)
	assert.Equal(t, "Fixed", storedProgram(t, s, "ring"), "shutdown does not persist")
}

func TestManagerFallsBackToDisabledForUnknownPrograms(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.Program("ring"), "Strobe"))

	opts := testOptions(s, b)
	opts.Ring = &recordingPixels{}
	m := NewManager(ctx, opts)

	assert.Equal(t, "Disabled", m.ProgramOf("ring"))
	assert.False(t, bus.Get(b, bus.LightsActiveFlag))
	assert.False(t, b.Event(bus.LightsActive).IsSet())
}

func TestManagerAppliesControllerChanges(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	pixels := &recordingPixels{}
	opts := testOptions(s, b)
	opts.Ring = pixels
	m := NewManager(ctx, opts)
	c := NewController(s, b)
	stop := run(t, m)

	require.NoError(t, c.SetFixedColor(ctx, "#00ff00"))
	require.NoError(t, c.SetProgram(ctx, "ring", "Fixed"))
	assert.Eventually(t, func() bool {
		last := pixels.last()
		return len(last) == RingLEDCount && last[12] == [3]uint8{0, 255, 0}
	}, waitFor, 5*time.Millisecond)
	assert.True(t, bus.Get(b, bus.LightsActiveFlag))

	require.NoError(t, c.SetBrightness(ctx, "ring", 0.5))
	assert.Eventually(t, func() bool {
		last := pixels.last()
		return len(last) == RingLEDCount && last[12] == [3]uint8{0, 127, 0}
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, c.SetProgram(ctx, "ring", "Disabled"))
	assert.Eventually(t, func() bool {
		return m.ProgramOf("ring") == "Disabled" && !bus.Get(b, bus.LightsActiveFlag)
	}, waitFor, 5*time.Millisecond)

	assert.True(t, eris.Is(stop(), context.Canceled))
}

func TestManagerStopMessageEndsLoop(t *testing.T) {
	s, b := newTestSettings(t)
	m := NewManager(context.Background(), testOptions(s, b))

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background()) }()
	NewController(s, b).Stop()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("lights loop did not stop")
	}
}

func TestManagerAlarmIsNotPersisted(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.Program("ring"), "Rainbow"))

	opts := testOptions(s, b)
	opts.Ring = &recordingPixels{}
	m := NewManager(ctx, opts)
	stop := run(t, m)

	b.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStarted)
	assert.Eventually(t, func() bool { return m.ProgramOf("ring") == "Fixed" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Rainbow", storedProgram(t, s, "ring"))

	b.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStopped)
	assert.Eventually(t, func() bool { return m.ProgramOf("ring") == "Rainbow" }, waitFor, 5*time.Millisecond)

	assert.True(t, eris.Is(stop(), context.Canceled))
}

func TestManagerDisablesStoppedScreen(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.Program("screen"), "Spectrum"))

	display := &syncDisplay{}
	opts := testOptions(s, b)
	opts.Display = func() (Display, error) { return display, nil }
	m := NewManager(ctx, opts)
	require.Equal(t, "Spectrum", m.ProgramOf("screen"))

	state := b.Subscribe(bus.StateChanged)
	defer state.Close()
	stop := run(t, m)

	assert.Eventually(t, func() bool {
		frames, _ := display.state()
		return frames > 0
	}, waitFor, 5*time.Millisecond)

	display.stop()
	assert.Eventually(t, func() bool { return m.ProgramOf("screen") == "Disabled" }, waitFor, 5*time.Millisecond)
	_, closed := display.state()
	assert.True(t, closed)
	assert.Equal(t, "Disabled", storedProgram(t, s, "screen"))
	assert.Equal(t, "Spectrum", settings.MustGet(ctx, s, settings.LastProgram("screen")))

	select {
	case msg := <-state.C():
		assert.Equal(t, "lights", msg)
	case <-time.After(waitFor):
		t.Fatal("no state change published")
	}

	assert.True(t, eris.Is(stop(), context.Canceled))
}

type brokenPixels struct{}

func (brokenPixels) WritePixels([][3]uint8) error { return eris.New("spi gone") }

func TestManagerDisablesFailingDevice(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.Program("ring"), "Rainbow"))

	opts := testOptions(s, b)
	opts.Ring = brokenPixels{}
	m := NewManager(ctx, opts)
	stop := run(t, m)

	assert.Eventually(t, func() bool { return m.ProgramOf("ring") == "Disabled" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Disabled", storedProgram(t, s, "ring"))
	assert.Equal(t, "Rainbow", settings.MustGet(ctx, s, settings.LastProgram("ring")))

	assert.True(t, eris.Is(stop(), context.Canceled))
}

func TestManagerRestartsScreenOnUPSChange(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.Program("screen"), "Pulse"))

	var mu sync.Mutex
	opened := 0
	opts := testOptions(s, b)
	opts.Display = func() (Display, error) {
		mu.Lock()
		defer mu.Unlock()
		opened++
		return &syncDisplay{}, nil
	}
	m := NewManager(ctx, opts)
	stop := run(t, m)

	require.NoError(t, NewController(s, b).SetUPS(ctx, 60))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opened == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Pulse", m.ProgramOf("screen"))

	assert.True(t, eris.Is(stop(), context.Canceled))
}

func TestManagerClearsEveryWLEDLed(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.FixedColor, [3]float64{1, 0, 0}))

	conn := &recordingConn{}
	opts := testOptions(s, b)
	opts.WLED = true
	opts.Dial = func(context.Context, string) (net.Conn, error) { return conn, nil }
	m := NewManager(ctx, opts)
	c := NewController(s, b)
	stop := run(t, m)

	count := settings.MustGet(ctx, s, settings.WLEDLEDCount)
	require.NoError(t, c.SetProgram(ctx, "wled", "Fixed"))
	assert.Eventually(t, func() bool {
		packet := conn.last()
		return len(packet) == 2+3*count && packet[2] == 255
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, c.SetProgram(ctx, "wled", "Disabled"))
	assert.Eventually(t, func() bool { return m.ProgramOf("wled") == "Disabled" }, waitFor, 5*time.Millisecond)

	cleared := append([]byte{2, 1}, make([]byte, 3*count)...)
	assert.Equal(t, cleared, conn.last())

	assert.True(t, eris.Is(stop(), context.Canceled))
}

func alarmState(m *Manager) (int, Color) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarm.Consumers(), m.state.fixedColor
}

func TestManagerIgnoresRepeatedAlarmStart(t *testing.T) {
	s, b := newTestSettings(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, s, settings.FixedColor, [3]float64{0, 1, 0}))
	require.NoError(t, settings.Put(ctx, s, settings.Program("ring"), "Fixed"))

	pixels := &recordingPixels{}
	opts := testOptions(s, b)
	opts.Ring = pixels
	m := NewManager(ctx, opts)
	stop := run(t, m)

	b.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStarted)
	b.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStarted)
	assert.Eventually(t, func() bool {
		consumers, _ := alarmState(m)
		return consumers == 1
	}, waitFor, 5*time.Millisecond)

	b.Publish(bus.LightsSettingsChanged, bus.LightsAlarmStopped)
	assert.Eventually(t, func() bool {
		consumers, color := alarmState(m)
		return consumers == 0 && color == Color{0, 1, 0}
	}, waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		last := pixels.last()
		return len(last) == RingLEDCount && last[12] == [3]uint8{0, 255, 0}
	}, waitFor, 5*time.Millisecond)

	assert.True(t, eris.Is(stop(), context.Canceled))
}
