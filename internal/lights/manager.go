package lights

import (
	"context"
	"log/slog"
	"math"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/ui"
)

// Audio feeds.
const (
	FeedCava    = "cava"
	FeedBuiltin = "builtin"
)

const (
	disabledName = "Disabled"
	fixedName    = "Fixed"

	deltaBuffer     = 64
	defaultUPS      = 30.0
	shutdownTimeout = time.Second
)

// Options wires the manager to its hardware. Devices whose writer is nil (or that are not
// enabled) stay uninitialized and keep the disabled program.
type Options struct {
	Settings *settings.Store
	Bus      bus.Bus
	Logger   *slog.Logger

	Ring      PixelWriter
	StatusLED StatusLight
	Strip     StripDriver
	WLED      bool
	// Dial defaults to a broadcast capable UDP socket.
	Dial DialFunc

	// Display opens the surface of the visualization programs.
	Display DisplayFactory
	// VideoPath is looped by the video program when set.
	VideoPath    string
	TerminalSize func() (int, int, error)

	// Feed selects the audio feed, FeedCava or FeedBuiltin.
	Feed    string
	Cava    CavaOptions
	Builtin BuiltinOptions
}

// Manager owns every device and program. Programs are started, computed and stopped on the
// goroutine running the frame loop only; settings changes reach it as deltas.
type Manager struct {
	settings *settings.Store
	bus      bus.Bus
	logger   *slog.Logger
	termSize func() (int, int, error)

	mu       sync.Mutex
	state    *frameState
	disabled *UsageCounter
	alarm    *UsageCounter
	feed     *UsageCounter
	led      map[string]*UsageCounter
	screens  map[string]*UsageCounter

	ring   *ring
	wled   *wled
	strip  *strip
	screen *screen

	quality   *qualityMonitor
	fpsFrames int
	fpsSince  time.Time

	gate   *bus.Event
	sub    *bus.Subscription
	deltas chan delta
}

// NewManager builds the program tables, publishes them on the bus and restores the
// persisted program of every device.
func NewManager(ctx context.Context, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := opts.Settings
	m := &Manager{
		settings: s,
		bus:      opts.Bus,
		logger:   opts.Logger.With(slog.String("component", "lights")),
		termSize: opts.TerminalSize,
		gate:     opts.Bus.Event(bus.LightsActive),
		sub:      opts.Bus.Subscribe(bus.LightsSettingsChanged),
		deltas:   make(chan delta, deltaBuffer),
	}

	m.state = &frameState{
		ups:        settings.MustGet(ctx, s, settings.UPS),
		speed:      settings.MustGet(ctx, s, settings.ProgramSpeed),
		fixedColor: Color(settings.MustGet(ctx, s, settings.FixedColor)),
		dynamicRes: settings.MustGet(ctx, s, settings.DynamicResolution),
		wledCount:  settings.MustGet(ctx, s, settings.WLEDLEDCount),
	}
	if m.state.ups <= 0 {
		m.state.ups = defaultUPS
	}
	m.state.lastFixed = m.state.fixedColor
	m.quality = newQualityMonitor(m.state.ups)

	m.ring = newRing(opts.Ring, opts.StatusLED)
	m.wled = newWLED(opts.WLED, opts.Dial)
	m.strip = newStrip(opts.Strip)
	m.screen = newScreen(opts.Display != nil || opts.VideoPath != "", opts.TerminalSize)

	alarmProgram := newAlarm(m.state, m.setStatusLED)
	m.state.alarm = alarmProgram
	m.alarm = share(alarmProgram)
	m.disabled = share(disabled{})
	if feed := newFeed(m.state, opts, m.logger); feed != nil {
		m.feed = share(feed)
		m.state.feed = m.feed
	}

	ledPrograms := []*UsageCounter{m.disabled, share(&fixed{state: m.state}), share(&rainbow{state: m.state})}
	screenPrograms := []*UsageCounter{m.disabled}
	if opts.VideoPath != "" {
		screenPrograms = append(screenPrograms, share(newVideo(opts.VideoPath, m.logger)))
	}
	if m.feed != nil {
		ledPrograms = append(ledPrograms, share(newAdaptive(m.state)))
		if opts.Display != nil {
			for _, variant := range []ui.Variant{ui.VariantPulse, ui.VariantSpectrum} {
				screenPrograms = append(screenPrograms, share(newVisualization(variant, m.state, opts.Display, opts.Bus)))
			}
		}
	}
	byName := func(p *UsageCounter) (string, *UsageCounter) { return p.Name(), p }
	m.led = lo.Associate(ledPrograms, byName)
	m.screens = lo.Associate(screenPrograms, byName)
	names := func(p *UsageCounter, _ int) string { return p.Name() }
	bus.Put(m.bus, bus.LEDPrograms, lo.Map(ledPrograms, names))
	bus.Put(m.bus, bus.ScreenPrograms, lo.Map(screenPrograms, names))

	m.probeTerminal()

	for _, d := range m.devices() {
		d.program = m.disabled
		_ = m.disabled.Use()
		bus.Put(m.bus, bus.Initialized(d.name), d.initialized)
	}
	for _, d := range m.devices() {
		m.applyDevice(ctx, m.readDevice(ctx, d.name))
	}
	m.consumersChanged()
	if m.ring.program == m.disabled {
		m.setStatusLED(true)
	}
	return m
}

func newFeed(state *frameState, opts Options, logger *slog.Logger) AudioFeed {
	switch opts.Feed {
	case FeedBuiltin:
		if opts.Builtin.Capture == nil {
			logger.Info("no audio capture available, audio programs disabled")
			return nil
		}
		if opts.Builtin.Logger == nil {
			opts.Builtin.Logger = logger
		}
		return newBuiltinFeed(opts.Builtin)
	default:
		if opts.Cava.Logger == nil {
			opts.Cava.Logger = logger
		}
		cavaOpts := opts.Cava.withDefaults()
		if _, err := exec.LookPath(cavaOpts.Binary); err != nil {
			logger.Info("cava not found, audio programs disabled", slog.String("binary", cavaOpts.Binary))
			return nil
		}
		return newCava(state, cavaOpts)
	}
}

// Run computes frames until ctx ends or a stop message arrives. Devices are cleared and
// every program is stopped before it returns. Changes published after NewManager are not
// missed even when Run starts later. A manager runs once.
func (m *Manager) Run(ctx context.Context) error {
	defer m.sub.Close()

	m.logger.Info("lights loop started")
	defer m.logger.Info("lights loop stopped")

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		return m.listen(ctx, m.sub, done)
	})
	g.Go(func() error {
		defer close(done)
		return m.loop(ctx)
	})
	return g.Wait()
}

// ProgramOf returns the name of the program device currently runs.
func (m *Manager) ProgramOf(device string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.device(device); d != nil {
		return d.program.Name()
	}
	return ""
}

func (m *Manager) listen(ctx context.Context, sub *bus.Subscription, done <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case msg, open := <-sub.C():
			if !open {
				return nil
			}
			d, known := m.read(ctx, msg)
			if !known {
				m.logger.Warn("ignoring unknown lights message", slog.String("message", msg))
				continue
			}
			select {
			case m.deltas <- d:
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			}
			if d.kind == deltaStop {
				return nil
			}
		}
	}
}

func (m *Manager) loop(ctx context.Context) error {
	defer m.shutdown()

	for {
		if m.applyPending(ctx) {
			return nil
		}

		if !m.gate.IsSet() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.gate.Done():
			case d := <-m.deltas:
				if m.apply(ctx, d) {
					return nil
				}
			}
			continue
		}

		start := time.Now()
		m.frame(ctx)
		elapsed := time.Since(start)
		spf := time.Duration(float64(time.Second) / m.state.ups)
		m.adaptQuality(elapsed, spf)
		m.countFrame(time.Now())

		// overruns are absorbed by not sleeping
		if err := sleep(ctx, spf-elapsed); err != nil {
			return err
		}
	}
}

// applyPending applies every queued delta. It reports whether one of them was a stop.
func (m *Manager) applyPending(ctx context.Context) bool {
	for {
		select {
		case d := <-m.deltas:
			if m.apply(ctx, d) {
				return true
			}
		default:
			return false
		}
	}
}

func (m *Manager) frame(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.feed != nil {
		if out := m.feed.Compute(); out.Status != StatusOK {
			m.logger.Warn("audio feed failed", slog.Any("error", out.Reason))
		}
	}
	m.alarm.Compute()

	computed := make(map[*UsageCounter]bool, 3)
	for _, d := range m.ledDevices() {
		if computed[d.program] {
			continue
		}
		computed[d.program] = true
		if out := d.program.Compute(); out.Status != StatusOK {
			m.logger.Warn("led program failed",
				slog.String("program", d.program.Name()),
				slog.Any("error", out.Reason))
		}
	}
	m.setLEDColors(ctx)

	if out := m.screen.program.Compute(); out.Status != StatusOK {
		m.logger.Info("screen program ended",
			slog.String("program", m.screen.program.Name()),
			slog.Any("reason", out.Reason))
		m.setProgram(ctx, &m.screen.Device, m.disabled)
		m.persistDisabled(ctx, m.screen.name)
	}
}

func (m *Manager) setLEDColors(ctx context.Context) {
	if p, on := m.activeLED(&m.ring.Device); on {
		colors := p.RingColors()
		if m.ring.monochrome {
			colors = repeat(p.StripColor(), RingLEDCount)
		}
		m.checkWrite(ctx, &m.ring.Device, m.ring.setColors(colors))
	}

	if p, on := m.activeLED(&m.strip.Device); on {
		m.checkWrite(ctx, &m.strip.Device, m.strip.setColor(ctx, p.StripColor()))
	}

	if p, on := m.activeLED(&m.wled.Device); on {
		colors := p.WLEDColors()
		if m.wled.monochrome {
			colors = repeat(p.StripColor(), m.state.wledCount)
		}
		m.checkWrite(ctx, &m.wled.Device, m.wled.setColors(ctx, colors))
	}
}

func (m *Manager) activeLED(d *Device) (LEDProgram, bool) {
	if d.program == m.disabled {
		return nil, false
	}
	return d.program.LED()
}

// checkWrite disables a device whose hardware stopped accepting colors.
func (m *Manager) checkWrite(ctx context.Context, d *Device, err error) {
	if err == nil {
		return
	}
	m.logger.Error("device write failed, disabling it",
		slog.String("device", d.name),
		slog.Any("error", err))
	m.setProgram(ctx, d, m.disabled)
	m.persistDisabled(ctx, d.name)
}

func (m *Manager) adaptQuality(elapsed, spf time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.dynamicRes || m.screen.program == m.disabled {
		return
	}
	scalable, ok := m.screen.program.Program.(Scalable)
	if !ok {
		return
	}
	switch m.quality.observe(elapsed, spf) {
	case -1:
		scalable.DecreaseResolution()
	case 1:
		scalable.IncreaseResolution()
	}
}

func (m *Manager) countFrame(now time.Time) {
	m.fpsFrames++
	if elapsed := now.Sub(m.fpsSince); elapsed >= time.Second {
		bus.Put(m.bus, bus.CurrentFPS, float64(m.fpsFrames)/elapsed.Seconds())
		m.fpsFrames, m.fpsSince = 0, now
	}
}

// setProgram swaps the program of d. A program that fails to start leaves the device
// disabled.
func (m *Manager) setProgram(ctx context.Context, d *Device, p *UsageCounter) {
	if !d.initialized || d.program == p {
		return
	}

	d.program.Release()
	if err := p.Use(); err != nil {
		m.logger.Error("could not start program",
			slog.String("device", d.name),
			slog.String("program", p.Name()),
			slog.Any("error", err))
		p = m.disabled
		_ = p.Use()
		m.persistDisabled(ctx, d.name)
	}
	d.program = p
	m.consumersChanged()

	if p == m.disabled {
		m.clearDevice(ctx, d)
	}
	if d.name == m.ring.name {
		m.setStatusLED(p == m.disabled)
	}
}

// consumersChanged opens the frame loop while any device shows something.
func (m *Manager) consumersChanged() {
	active := m.disabled.Consumers() < len(m.devices())
	if active == m.gate.IsSet() {
		return
	}
	if active {
		m.fpsFrames, m.fpsSince = 0, time.Now()
		m.gate.Set()
	} else {
		m.gate.Clear()
		bus.Put(m.bus, bus.CurrentFPS, 0.0)
	}
	bus.Put(m.bus, bus.LightsActiveFlag, active)
}

func (m *Manager) clearDevice(ctx context.Context, d *Device) {
	var err error
	switch d.name {
	case m.ring.name:
		err = m.ring.clear()
	case m.wled.name:
		err = m.wled.clear(ctx)
	case m.strip.name:
		err = m.strip.clear(ctx)
	}
	if err != nil {
		m.logger.Warn("could not clear device", slog.String("device", d.name), slog.Any("error", err))
	}
}

func (m *Manager) setStatusLED(on bool) {
	if err := m.ring.setStatus(on); err != nil {
		m.logger.Warn("could not set status led", slog.Bool("on", on), slog.Any("error", err))
	}
}

func (m *Manager) persistDisabled(ctx context.Context, device string) {
	if err := persistProgramChange(ctx, m.settings, device, disabledName); err != nil {
		m.logger.Error("could not persist program change", slog.String("device", device), slog.Any("error", err))
	}
	m.bus.Publish(bus.StateChanged, "lights")
}

func (m *Manager) restartScreen(ctx context.Context) {
	p := m.screen.program
	if p == m.disabled {
		return
	}
	m.setProgram(ctx, &m.screen.Device, m.disabled)
	m.setProgram(ctx, &m.screen.Device, p)
}

func (m *Manager) probeTerminal() {
	if m.termSize == nil {
		return
	}
	cols, rows, err := m.termSize()
	if err != nil {
		m.logger.Debug("terminal size unavailable", slog.Any("error", err))
		return
	}
	bus.Put(m.bus, bus.TerminalSize, [2]int{cols, rows})
}

// shutdown returns every device to the disabled program without persisting it, so the next
// start restores what ran before.
func (m *Manager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for m.alarm.Consumers() > 0 {
		m.alarm.Release()
	}
	for _, d := range m.devices() {
		m.setProgram(ctx, d, m.disabled)
	}
	m.wled.close()
}

func (m *Manager) devices() []*Device {
	return []*Device{&m.ring.Device, &m.strip.Device, &m.wled.Device, &m.screen.Device}
}

func (m *Manager) ledDevices() []*Device {
	return []*Device{&m.ring.Device, &m.wled.Device, &m.strip.Device}
}

func (m *Manager) device(name string) *Device {
	d, _ := lo.Find(m.devices(), func(d *Device) bool { return d.name == name })
	return d
}

// lookup resolves a program name for device. Unknown names fall back to disabled.
func (m *Manager) lookup(device, name string) *UsageCounter {
	table := m.led
	if device == m.screen.name {
		table = m.screens
	}
	if p, found := table[name]; found {
		return p
	}
	m.logger.Warn("unknown program, using disabled", slog.String("device", device), slog.String("program", name))
	return m.disabled
}

type deltaKind int

const (
	deltaDevice deltaKind = iota
	deltaBase
	deltaAlarmStarted
	deltaAlarmStopped
	deltaAdjustScreen
	deltaStop
)

// delta carries a settings change from the listener to the frame loop, read from the
// database already.
type delta struct {
	kind   deltaKind
	device deviceSettings
	base   baseSettings
	// programs to return to after an alarm, by device
	restore map[string]string
}

type deviceSettings struct {
	name       string
	brightness float64
	monochrome bool
	program    string

	wledIP    string
	wledPort  int
	wledCount int
}

type baseSettings struct {
	ups        float64
	speed      float64
	fixedColor Color
	dynamicRes bool
}

func (m *Manager) read(ctx context.Context, msg string) (delta, bool) {
	if msg == bus.LightsStop {
		return delta{kind: deltaStop}, true
	}

	// other processes may have changed settings behind our cache
	m.settings.Flush()

	switch msg {
	case bus.LightsAlarmStarted:
		return delta{kind: deltaAlarmStarted}, true
	case bus.LightsAlarmStopped:
		restore := make(map[string]string, 3)
		for _, d := range m.ledDevices() {
			restore[d.name] = settings.MustGet(ctx, m.settings, settings.Program(d.name))
		}
		return delta{kind: deltaAlarmStopped, restore: restore}, true
	case bus.LightsAdjustScreen:
		return delta{kind: deltaAdjustScreen}, true
	case bus.LightsBase:
		return delta{kind: deltaBase, base: baseSettings{
			ups:        settings.MustGet(ctx, m.settings, settings.UPS),
			speed:      settings.MustGet(ctx, m.settings, settings.ProgramSpeed),
			fixedColor: Color(settings.MustGet(ctx, m.settings, settings.FixedColor)),
			dynamicRes: settings.MustGet(ctx, m.settings, settings.DynamicResolution),
		}}, true
	}

	if !slices.Contains(settings.Devices, msg) {
		return delta{}, false
	}
	return delta{kind: deltaDevice, device: m.readDevice(ctx, msg)}, true
}

func (m *Manager) readDevice(ctx context.Context, name string) deviceSettings {
	ds := deviceSettings{
		name:       name,
		brightness: settings.MustGet(ctx, m.settings, settings.Brightness(name)),
		monochrome: settings.MustGet(ctx, m.settings, settings.Monochrome(name)),
		program:    settings.MustGet(ctx, m.settings, settings.Program(name)),
	}
	if name == m.wled.name {
		ds.wledIP = settings.MustGet(ctx, m.settings, settings.WLEDIP)
		ds.wledPort = settings.MustGet(ctx, m.settings, settings.WLEDPort)
		ds.wledCount = settings.MustGet(ctx, m.settings, settings.WLEDLEDCount)
	}
	return ds
}

// apply runs on the loop goroutine. It reports whether the loop should stop.
func (m *Manager) apply(ctx context.Context, d delta) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch d.kind {
	case deltaStop:
		return true
	case deltaDevice:
		m.applyDevice(ctx, d.device)
	case deltaBase:
		m.applyBase(ctx, d.base)
	case deltaAlarmStarted:
		m.alarmStarted(ctx)
	case deltaAlarmStopped:
		m.alarmStopped(ctx, d.restore)
	case deltaAdjustScreen:
		m.probeTerminal()
		m.restartScreen(ctx)
	}
	return false
}

func (m *Manager) applyDevice(ctx context.Context, ds deviceSettings) {
	d := m.device(ds.name)
	if d == nil {
		return
	}
	d.brightness, d.monochrome = ds.brightness, ds.monochrome
	if ds.name == m.wled.name {
		m.wled.ip, m.wled.port, m.wled.count = ds.wledIP, ds.wledPort, ds.wledCount
		m.state.wledCount = ds.wledCount
	}
	m.setProgram(ctx, d, m.lookup(ds.name, ds.program))
}

func (m *Manager) applyBase(ctx context.Context, b baseSettings) {
	m.state.speed = b.speed
	m.state.dynamicRes = b.dynamicRes
	if m.alarm.Consumers() > 0 {
		// the fixed program shows the alarm, the new color applies afterwards
		m.state.lastFixed = b.fixedColor
	} else {
		m.state.fixedColor = b.fixedColor
	}

	if b.ups <= 0 || math.Abs(b.ups-m.state.ups) < 1e-9 {
		return
	}
	m.state.ups = b.ups
	m.quality = newQualityMonitor(b.ups)
	if m.feed != nil {
		if f, isFeed := m.feed.Program.(AudioFeed); isFeed {
			f.SetFramerate(b.ups)
		}
	}
	// screen programs size their rendering by the frame rate
	m.restartScreen(ctx)
}

// alarmStarted shows the alarm on every led device without persisting the change. A
// repeated start while the alarm runs is ignored.
func (m *Manager) alarmStarted(ctx context.Context) {
	if m.alarm.Consumers() > 0 {
		return
	}
	_ = m.alarm.Use()
	m.setStatusLED(false)
	m.state.lastFixed = m.state.fixedColor
	fixed := m.led[fixedName]
	for _, d := range m.ledDevices() {
		m.setProgram(ctx, d, fixed)
	}
}

func (m *Manager) alarmStopped(ctx context.Context, restore map[string]string) {
	m.alarm.Release()
	m.state.fixedColor = m.state.lastFixed
	for _, d := range m.ledDevices() {
		m.setProgram(ctx, d, m.lookup(d.name, restore[d.name]))
	}
	m.setStatusLED(m.ring.program == m.disabled)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
