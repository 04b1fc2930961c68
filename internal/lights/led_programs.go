package lights

import (
	"math"

	"github.com/cybre/ravebox/internal/utils"
)

const (
	RingLEDCount = 16
	// strip colors are computed from this many aggregated bars
	stripGranularity = 16
)

// frameState is what programs read while computing a frame. The lights loop owns it.
type frameState struct {
	ups        float64
	speed      float64
	fixedColor Color
	lastFixed  Color
	dynamicRes bool
	wledCount  int

	alarm *alarm
	feed  *UsageCounter
}

// bars returns the latest audio feed frame.
func (s *frameState) bars() []float64 {
	if s.feed == nil {
		return nil
	}
	if f, isFeed := s.feed.Program.(AudioFeed); isFeed {
		return f.Bars()
	}
	return nil
}

// disabled marks an idle device. It is both a led and a screen program.
type disabled struct{}

func (disabled) Name() string        { return "Disabled" }
func (disabled) Kind() Kind          { return KindDisabled }
func (disabled) Start() error        { return nil }
func (disabled) Compute() Outcome    { return ok() }
func (disabled) Stop()               {}
func (disabled) RingColors() []Color { return nil }
func (disabled) WLEDColors() []Color { return nil }
func (disabled) StripColor() Color   { return Black }

// fixed shows the configured color, or pulsing red while the alarm runs.
type fixed struct {
	state *frameState
}

func (p *fixed) Name() string { return "Fixed" }
func (p *fixed) Kind() Kind   { return KindFixed }
func (p *fixed) Start() error { return nil }
func (p *fixed) Stop()        {}

func (p *fixed) Compute() Outcome {
	if factor := p.state.alarm.Factor(); factor != alarmInactive {
		p.state.fixedColor = Color{factor, 0, 0}
	}
	return ok()
}

func (p *fixed) RingColors() []Color { return repeat(p.state.fixedColor, RingLEDCount) }
func (p *fixed) WLEDColors() []Color { return repeat(p.state.fixedColor, p.state.wledCount) }
func (p *fixed) StripColor() Color   { return p.state.fixedColor }

// rainbow cycles through all hues once per second at speed 1.
type rainbow struct {
	state    *frameState
	fraction float64
}

func (p *rainbow) Name() string { return "Rainbow" }
func (p *rainbow) Kind() Kind   { return KindRainbow }
func (p *rainbow) Stop()        {}

func (p *rainbow) Start() error {
	p.fraction = 0
	return nil
}

func (p *rainbow) Compute() Outcome {
	p.fraction = math.Mod(p.fraction+p.state.speed/p.state.ups, 1)
	return ok()
}

func (p *rainbow) colors(n int) []Color {
	hues := stretchedHues(n, p.fraction)
	colors := make([]Color, n)
	for i, h := range hues {
		colors[i] = HSV(h, 1, 1)
	}
	return colors
}

func (p *rainbow) RingColors() []Color { return p.colors(RingLEDCount) }
func (p *rainbow) WLEDColors() []Color { return p.colors(p.state.wledCount) }
func (p *rainbow) StripColor() Color   { return HSV(p.fraction, 1, 1) }

// adaptive follows the audio feed: low frequencies are red, high ones blue.
type adaptive struct {
	state *frameState

	ringBase []Color
	wledBase []Color

	// strip weights per aggregated bar; each channel covers about a third and they sum to 1
	red, green, blue [stripGranularity]float64
}

func newAdaptive(state *frameState) *adaptive {
	p := &adaptive{state: state, ringBase: spectrumColors(RingLEDCount)}
	steepness := 6 * math.E
	for i := range stripGranularity {
		x := float64(i) / float64(stripGranularity-1)
		p.red[i] = 1 - utils.Logistic(x, 1, steepness, 1.0/3)
		p.blue[i] = utils.Logistic(x, 1, steepness, 2.0/3)
		p.green[i] = 1 - p.red[i] - p.blue[i]
	}
	return p
}

func (p *adaptive) Name() string     { return "Rave" }
func (p *adaptive) Kind() Kind       { return KindAdaptive }
func (p *adaptive) Compute() Outcome { return ok() }

func (p *adaptive) Start() error {
	return p.state.feed.Use()
}

func (p *adaptive) Stop() {
	p.state.feed.Release()
}

func (p *adaptive) RingColors() []Color {
	return shade(p.ringBase, aggregate(p.state.bars(), RingLEDCount))
}

func (p *adaptive) WLEDColors() []Color {
	if len(p.wledBase) != p.state.wledCount {
		p.wledBase = spectrumColors(p.state.wledCount)
	}
	return shade(p.wledBase, aggregate(p.state.bars(), p.state.wledCount))
}

func (p *adaptive) StripColor() Color {
	bins := aggregate(p.state.bars(), stripGranularity)
	var c Color
	for i, v := range bins {
		c[0] += p.red[i] * v
		c[1] += p.green[i] * v
		c[2] += p.blue[i] * v
	}
	for i := range c {
		c[i] = math.Min(1, c[i]*3/stripGranularity)
	}
	return c
}

func shade(base []Color, factors []float64) []Color {
	out := make([]Color, len(base))
	for i := range out {
		out[i] = base[i].Scale(factors[i])
	}
	return out
}
