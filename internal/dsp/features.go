package dsp

import (
	"math"

	"github.com/cybre/ravebox/internal/utils"
)

// share of the energy below the rolloff point
const rolloffRatio = 0.85

// Features describes one bar frame for the pulse visualization. Positions are bar indices
// normalized to [0,1], and the bands are the lower, middle and upper third of the bars.
type Features struct {
	RMS                  float64
	SpectralCentroidNorm float64
	SpectralRolloffNorm  float64
	BandEnergyNormalized [3]float64
}

// Summarize derives the features of a bar frame. It serves cava and the builtin feed alike,
// since neither hands raw audio to the programs.
func Summarize(bars []float64) Features {
	var f Features
	n := len(bars)
	if n == 0 {
		return f
	}

	var total, weighted, sum float64
	var bands [3]float64
	for i, b := range bars {
		total += b * b
		bands[min(3*i/n, 2)] += b * b
		weighted += float64(i) * b
		sum += b
	}
	f.RMS = math.Sqrt(total / float64(n))
	if sum > 1e-9 {
		f.SpectralCentroidNorm = position(int(math.Round(weighted/sum)), n)
	}
	if total <= 1e-9 {
		return f
	}

	cumulative := 0.0
	for i, b := range bars {
		cumulative += b * b
		if cumulative >= rolloffRatio*total {
			f.SpectralRolloffNorm = position(i, n)
			break
		}
	}
	for i, energy := range bands {
		f.BandEnergyNormalized[i] = utils.Clamp(energy/total, 0.0, 1.0)
	}
	return f
}

func position(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

// Smoother is an exponential moving average. The first sample is taken as is; a smaller
// alpha smooths harder.
type Smoother struct {
	alpha  float64
	value  float64
	primed bool
}

func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: utils.Clamp(alpha, 0.0, 1.0)}
}

func (s *Smoother) Step(v float64) float64 {
	if s.primed {
		s.value += s.alpha * (v - s.value)
	} else {
		s.value, s.primed = v, true
	}
	return s.value
}
