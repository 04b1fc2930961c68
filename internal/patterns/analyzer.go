package patterns

import (
	"time"

	"github.com/cybre/ravebox/internal/dsp"
	"github.com/cybre/ravebox/internal/utils"
)

// Mode is the lighting strategy the analyzer currently recommends.
type Mode int

const (
	// ModeEnergyPulse follows transients and beats.
	ModeEnergyPulse Mode = iota
	// ModeSpectrumFlow follows spectral balance for slower colour movement.
	ModeSpectrumFlow
)

func (m Mode) String() string {
	switch m {
	case ModeEnergyPulse:
		return "energy-pulse"
	case ModeSpectrumFlow:
		return "spectrum-flow"
	default:
		return "unknown"
	}
}

// Options tunes the Analyzer. Zero values select the defaults.
type Options struct {
	EnergyWindow    int
	BeatThreshold   float64
	MinBeatInterval time.Duration
	IntensityAlpha  float64
	ModeHold        time.Duration
	BeatWindow      time.Duration
}

func (o Options) withDefaults() Options {
	if o.EnergyWindow <= 0 {
		// about one second of frames at 30-45 updates per second
		o.EnergyWindow = 40
	}
	if o.BeatThreshold <= 0 {
		o.BeatThreshold = 1.35
	}
	if o.MinBeatInterval <= 0 {
		o.MinBeatInterval = 160 * time.Millisecond
	}
	if o.IntensityAlpha <= 0 {
		o.IntensityAlpha = 0.18
	}
	if o.ModeHold <= 0 {
		o.ModeHold = 2500 * time.Millisecond
	}
	if o.BeatWindow <= 0 {
		o.BeatWindow = 2 * time.Second
	}
	return o
}

// Output is the rhythmic state of one frame.
type Output struct {
	Beat         bool
	BeatStrength float64
	Energy       float64
	EnergyNorm   float64
	Intensity    float64
	BeatDensity  float64
	Mode         Mode
}

// envelope keeps a slow noise floor and a decaying peak so energy can be normalized.
type envelope struct {
	floor float64
	peak  float64
}

func (e *envelope) reset() {
	e.floor = 1e-3
	e.peak = 1e-2
}

func (e *envelope) update(energy float64) float64 {
	e.floor = ema(e.floor, energy, 0.01)
	if energy > e.peak {
		e.peak = ema(e.peak, energy, 0.34)
	} else {
		e.peak = ema(e.peak, energy, 0.02)
	}
	e.peak = max(e.peak, e.floor*1.5)

	return utils.Clamp((energy-e.floor)/(e.peak-e.floor+1e-9), 0.0, 1.0)
}

// window is a ring buffer of recent energies.
type window struct {
	values []float64
	sum    float64
	count  int
	next   int
}

func (w *window) push(v float64) float64 {
	w.sum += v - w.values[w.next]
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	w.count = min(w.count+1, len(w.values))
	return w.sum / float64(max(w.count, 1))
}

// Analyzer tracks beats, energy and mood from per-frame spectral features.
type Analyzer struct {
	opts Options

	env    envelope
	recent window

	lastBeat       time.Time
	beats          []time.Time
	mode           Mode
	lastModeSwitch time.Time
	intensity      float64
}

func NewAnalyzer(opts Options) *Analyzer {
	opts = opts.withDefaults()
	a := &Analyzer{opts: opts, recent: window{values: make([]float64, opts.EnergyWindow)}}
	a.Reset()
	return a
}

// Reset forgets all history, as after a program restart.
func (a *Analyzer) Reset() {
	a.env.reset()
	clear(a.recent.values)
	a.recent.sum, a.recent.count, a.recent.next = 0, 0, 0
	a.lastBeat = time.Time{}
	a.beats = a.beats[:0]
	a.mode = ModeEnergyPulse
	a.lastModeSwitch = time.Time{}
	a.intensity = 0
}

// Process ingests the features of one frame.
func (a *Analyzer) Process(ts time.Time, features dsp.Features) Output {
	if a.lastModeSwitch.IsZero() {
		a.lastModeSwitch = ts
	}

	energy := max(features.RMS, 1e-9)
	energyNorm := a.env.update(energy)
	average := a.recent.push(energy)

	beat, strength := a.detectBeat(ts, energy, average)
	if beat {
		a.lastBeat = ts
		a.beats = append(a.beats, ts)
	}
	a.pruneBeats(ts)

	density := utils.Clamp(float64(len(a.beats))/a.opts.BeatWindow.Seconds()/4.0, 0.0, 1.0)
	instant := utils.Clamp(0.65*energyNorm+0.25*density+0.1*features.SpectralCentroidNorm, 0.0, 1.0)
	a.intensity = ema(a.intensity, instant, a.opts.IntensityAlpha)

	a.updateMode(ts, energyNorm, density, features.SpectralCentroidNorm)

	return Output{
		Beat:         beat,
		BeatStrength: strength,
		Energy:       energy,
		EnergyNorm:   energyNorm,
		Intensity:    a.intensity,
		BeatDensity:  density,
		Mode:         a.mode,
	}
}

func (a *Analyzer) detectBeat(ts time.Time, energy, average float64) (bool, float64) {
	if average <= 1e-9 {
		return false, 0
	}
	if !a.lastBeat.IsZero() && ts.Sub(a.lastBeat) < a.opts.MinBeatInterval {
		return false, 0
	}

	threshold := a.opts.BeatThreshold * average
	if energy <= threshold {
		return false, 0
	}

	return true, utils.Clamp((energy-threshold)/(a.env.peak-threshold+1e-9), 0.0, 1.0)
}

func (a *Analyzer) pruneBeats(now time.Time) {
	cutoff := now.Add(-a.opts.BeatWindow)
	kept := a.beats[:0]
	for _, ts := range a.beats {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	a.beats = kept
}

func (a *Analyzer) updateMode(ts time.Time, energyNorm, density, centroid float64) {
	if ts.Sub(a.lastModeSwitch) < a.opts.ModeHold {
		return
	}

	next := a.mode
	switch a.mode {
	case ModeEnergyPulse:
		if (energyNorm > 0.6 && centroid > 0.45) || (density > 0.55 && centroid > 0.4 && energyNorm > 0.5) {
			next = ModeSpectrumFlow
		}
	case ModeSpectrumFlow:
		if energyNorm < 0.35 || centroid < 0.3 || (density < 0.25 && energyNorm < 0.45) {
			next = ModeEnergyPulse
		}
	}

	if next != a.mode {
		a.mode = next
		a.lastModeSwitch = ts
	}
}

func ema(prev, value, alpha float64) float64 {
	switch {
	case alpha <= 0:
		return prev
	case alpha >= 1:
		return value
	}
	return prev + alpha*(value-prev)
}
