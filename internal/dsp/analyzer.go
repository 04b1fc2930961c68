package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/cybre/ravebox/internal/utils"
)

const (
	lowFrequency  = 50
	highFrequency = 10000
	// per frame decay of the automatic gain
	gainDecay = 0.995
	minGain   = 1e-6
)

// Analyzer turns interleaved capture buffers into bar frames shaped like the ones cava
// writes: bars are log-spaced between 50 Hz and 10 kHz and scaled by an automatic gain that
// follows the loudest recent bar. Scratch buffers are reused, so an Analyzer must stay on
// one goroutine.
type Analyzer struct {
	channels   int
	window     []float64
	frame      []float64
	magnitudes []float64
	edges      []int
	gain       float64
	bars       []float64
}

// NewAnalyzer prepares bar frames for buffers holding frameSize samples per channel.
func NewAnalyzer(bars int, sampleRate float64, frameSize, channels int) *Analyzer {
	switch {
	case bars <= 0:
		panic("dsp: bar count must be > 0")
	case frameSize <= 0:
		panic("dsp: frameSize must be > 0")
	case sampleRate <= 0:
		panic("dsp: sampleRate must be > 0")
	}

	return &Analyzer{
		channels:   max(channels, 1),
		window:     hann(frameSize),
		frame:      make([]float64, frameSize),
		magnitudes: make([]float64, frameSize/2+1),
		edges:      barEdges(bars, sampleRate, frameSize),
		bars:       make([]float64, bars),
	}
}

// Process returns the bars of one capture buffer. Short buffers are zero padded and long
// ones truncated. The slice is reused by the next call.
func (a *Analyzer) Process(samples []float32) []float64 {
	a.downmix(samples)
	spectrum := fft.FFTReal(a.frame)
	for i := range a.magnitudes {
		a.magnitudes[i] = cmplx.Abs(spectrum[i])
	}
	return a.mapBars(a.magnitudes)
}

// downmix averages the channels into the windowed mono frame.
func (a *Analyzer) downmix(samples []float32) {
	frames := len(samples) / a.channels
	for i := range a.frame {
		if i >= frames {
			a.frame[i] = 0
			continue
		}
		sum := 0.0
		for _, s := range samples[i*a.channels : (i+1)*a.channels] {
			sum += float64(s)
		}
		a.frame[i] = sum / float64(a.channels) * a.window[i]
	}
}

// mapBars averages the magnitudes under each bar and divides by the gain.
func (a *Analyzer) mapBars(magnitudes []float64) []float64 {
	loudest := 0.0
	for i := range a.bars {
		start := utils.ClampIndex(a.edges[i], len(magnitudes))
		end := min(max(a.edges[i+1], start+1), len(magnitudes))

		a.bars[i] = 0
		if end > start {
			sum := 0.0
			for _, mag := range magnitudes[start:end] {
				sum += mag
			}
			a.bars[i] = sum / float64(end-start)
		}
		loudest = max(loudest, a.bars[i])
	}

	a.gain = max(loudest, a.gain*gainDecay)
	for i := range a.bars {
		if a.gain < minGain {
			a.bars[i] = 0
		} else {
			a.bars[i] = utils.Clamp(a.bars[i]/a.gain, 0.0, 1.0)
		}
	}
	return a.bars
}

// barEdges returns the first FFT bin of every bar followed by the end of the last one.
func barEdges(bars int, sampleRate float64, frameSize int) []int {
	high := math.Min(highFrequency, sampleRate/2)
	binWidth := sampleRate / float64(frameSize)
	bins := frameSize/2 + 1

	edges := make([]int, bars+1)
	for i := range edges {
		freq := lowFrequency * math.Pow(high/lowFrequency, float64(i)/float64(bars))
		edges[i] = utils.ClampIndex(int(freq/binWidth), bins)
	}
	return edges
}

func hann(n int) []float64 {
	window := make([]float64, n)
	if n == 1 {
		window[0] = 1
		return window
	}
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return window
}
