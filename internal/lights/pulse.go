package lights

import (
	"math"

	"github.com/cybre/ravebox/internal/dsp"
	"github.com/cybre/ravebox/internal/patterns"
	"github.com/cybre/ravebox/internal/utils"
)

// pulseColor turns analyzed audio into a smoothed hue (degrees), saturation and brightness
// (both percent). Energy pulses lean on beats and bass, spectrum flow on the spectral shape.
type pulseColor struct {
	hue, saturation, brightness float64
	beat, sparkle               float64
	bands                       [3]float64
	centroid, rolloff           float64
	initialized                 bool

	satSmoother      *dsp.Smoother
	brightSmoother   *dsp.Smoother
	sparkleSmoother  *dsp.Smoother
	bandSmoothers    [3]*dsp.Smoother
	centroidSmoother *dsp.Smoother
	rolloffSmoother  *dsp.Smoother
}

func newPulseColor() *pulseColor {
	c := &pulseColor{}
	c.reset()
	return c
}

func (c *pulseColor) reset() {
	*c = pulseColor{
		satSmoother:      dsp.NewSmoother(0.16),
		brightSmoother:   dsp.NewSmoother(0.22),
		sparkleSmoother:  dsp.NewSmoother(0.14),
		centroidSmoother: dsp.NewSmoother(0.12),
		rolloffSmoother:  dsp.NewSmoother(0.1),
	}
	for i := range c.bandSmoothers {
		c.bandSmoothers[i] = dsp.NewSmoother(0.14)
	}
}

func (c *pulseColor) step(features dsp.Features, state patterns.Output) {
	if state.Beat {
		c.beat = utils.Clamp(state.BeatStrength*1.2, 0.0, 1.0)
	} else {
		c.beat *= 0.88
	}
	c.sparkle = c.sparkleSmoother.Step(features.BandEnergyNormalized[2])
	for i := range c.bands {
		c.bands[i] = c.bandSmoothers[i].Step(features.BandEnergyNormalized[i])
	}
	c.centroid = c.centroidSmoother.Step(features.SpectralCentroidNorm)
	c.rolloff = c.rolloffSmoother.Step(features.SpectralRolloffNorm)

	bass, mid, high := c.bands[0], c.bands[1], c.bands[2]
	var hue, sat, bright float64
	if state.Mode == patterns.ModeSpectrumFlow {
		midHigh := utils.SpectralBalance(mid, high)
		hue = utils.Clamp(210*c.centroid+40*(c.rolloff-0.5)+90*(midHigh-0.5)+40, 0.0, 359.0)
		sat = utils.Clamp(42+50*mid+18*high+12*state.Intensity, 28.0, 98.0)
		bright = utils.Clamp(34+56*state.Intensity+22*high+12*c.beat+20*c.sparkle, 10.0, 100.0)
	} else {
		lowMid := utils.SpectralBalance(bass, mid)
		hue = utils.Clamp(40+180*c.centroid-100*bass+60*high+20*c.beat*(0.5-lowMid), 0.0, 359.0)
		sat = utils.Clamp(38+42*mid+25*high+20*c.beat+16*state.BeatDensity+18*c.sparkle, 25.0, 100.0)
		bright = utils.Clamp(28+62*state.Intensity+32*c.beat+26*c.sparkle, 8.0, 100.0)
	}

	if !c.initialized {
		c.hue, c.saturation, c.brightness = hue, sat, bright
		c.initialized = true
		return
	}
	c.hue = smoothHue(c.hue, hue, 0.22)
	c.saturation = c.satSmoother.Step(sat)
	c.brightness = c.brightSmoother.Step(bright)
}

// smoothHue moves current towards target along the shorter way around the circle.
func smoothHue(current, target, alpha float64) float64 {
	delta := math.Mod(target-current+540, 360) - 180
	return math.Mod(current+alpha*delta+360, 360)
}
