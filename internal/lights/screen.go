package lights

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/dsp"
	"github.com/cybre/ravebox/internal/patterns"
	"github.com/cybre/ravebox/internal/ui"
)

var errDisplayClosed = eris.New("display was closed")

// Display is a surface visualization frames are drawn on.
type Display interface {
	Show(ui.Frame)
	// Stopped reports whether the surface went away on its own.
	Stopped() bool
	Close()
}

// DisplayFactory opens a fresh display each time a screen program starts.
type DisplayFactory func() (Display, error)

const (
	scaleStep = 0.5
	// raising the resolution at one scale more often than this means we oscillate
	maxIncreasesPerScale = 2
	// a terminal of this many cells renders at full resolution
	referenceCells = 160 * 48
)

// renderScale is how many screen cells share one rendered cell. 1 is full resolution.
type renderScale struct {
	value     float64
	increases map[float64]int
}

// reset picks a starting scale from the screen size, in multiples of scaleStep.
func (s *renderScale) reset(cols, rows int) {
	s.value = 1
	if cols > 0 && rows > 0 {
		s.value = math.Max(1, math.Round(float64(cols*rows)/referenceCells/scaleStep)*scaleStep)
	}
	s.increases = make(map[float64]int)
}

// increase raises the resolution one step. It reports false at full resolution or when
// the scale was raised from this value too often already.
func (s *renderScale) increase() bool {
	if s.value <= 1 {
		return false
	}
	key := math.Round(s.value*10) / 10
	if s.increases[key] >= maxIncreasesPerScale {
		return false
	}
	s.increases[key]++
	s.value = math.Max(1, s.value-scaleStep)
	return true
}

func (s *renderScale) decrease() {
	s.value += scaleStep
}

// visualization draws the audio feed on a display.
type visualization struct {
	variant ui.Variant
	state   *frameState
	open    DisplayFactory
	bus     bus.Bus

	display  Display
	scale    renderScale
	analyzer *patterns.Analyzer
	color    *pulseColor
}

func newVisualization(variant ui.Variant, state *frameState, open DisplayFactory, b bus.Bus) *visualization {
	return &visualization{
		variant:  variant,
		state:    state,
		open:     open,
		bus:      b,
		analyzer: patterns.NewAnalyzer(patterns.Options{}),
		color:    newPulseColor(),
	}
}

func (v *visualization) Name() string { return v.variant.String() }
func (v *visualization) Kind() Kind   { return KindVisualization }

func (v *visualization) Start() error {
	if err := v.state.feed.Use(); err != nil {
		return err
	}
	display, err := v.open()
	if err != nil {
		v.state.feed.Release()
		return eris.Wrap(err, "failed to open display")
	}
	v.display = display

	size := bus.Get(v.bus, bus.TerminalSize)
	v.scale.reset(size[0], size[1])
	bus.Put(v.bus, bus.RenderScale, v.scale.value)
	v.analyzer.Reset()
	v.color.reset()
	return nil
}

func (v *visualization) Compute() Outcome {
	if v.display.Stopped() {
		return stopped(errDisplayClosed)
	}

	now := time.Now()
	bars := v.state.bars()
	features := dsp.Summarize(bars)
	frame := ui.Frame{
		Variant: v.variant,
		Bars:    bars,
		Scale:   1 / v.scale.value,
		Bass:    features.BandEnergyNormalized[0],
		Mid:     features.BandEnergyNormalized[1],
		Treble:  features.BandEnergyNormalized[2],
	}

	switch v.variant {
	case ui.VariantPulse:
		out := v.analyzer.Process(now, features)
		v.color.step(features, out)
		frame.Hue, frame.Saturation, frame.Brightness = v.color.hue, v.color.saturation, v.color.brightness
		frame.Intensity = out.Intensity
		frame.Beat, frame.BeatStrength = out.Beat, out.BeatStrength
		frame.Bass, frame.Mid, frame.Treble = v.color.bands[0], v.color.bands[1], v.color.bands[2]
		frame.Mode = out.Mode.String()
	default:
		// low spectra are red, high ones blue, like the led spectrum
		frame.Hue = 240 * features.SpectralCentroidNorm
		frame.Saturation, frame.Brightness = 100, 100
	}

	if factor := v.state.alarm.Factor(); factor != alarmInactive {
		frame.Hue, frame.Saturation, frame.Brightness = 0, 100, 100*factor
	}

	v.display.Show(frame)
	return ok()
}

func (v *visualization) Stop() {
	if v.display != nil {
		v.display.Close()
		v.display = nil
	}
	v.state.feed.Release()
}

func (v *visualization) IncreaseResolution() {
	if v.scale.increase() {
		bus.Put(v.bus, bus.RenderScale, v.scale.value)
	}
}

func (v *visualization) DecreaseResolution() {
	v.scale.decrease()
	bus.Put(v.bus, bus.RenderScale, v.scale.value)
}
