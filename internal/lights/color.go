package lights

import (
	"strconv"
	"strings"

	"github.com/crazy3lf/colorconv"
	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/utils"
)

var ErrInvalidColor = eris.New("color must be #rrggbb")

// Color is an rgb triple with every channel in [0,1].
type Color [3]float64

var Black = Color{}

// Scale multiplies every channel by f.
func (c Color) Scale(f float64) Color {
	return Color{c[0] * f, c[1] * f, c[2] * f}
}

// HSV converts a hue in [0,1) at the given saturation and value.
func HSV(h, s, v float64) Color {
	r, g, b, err := colorconv.HSVToRGB(utils.Wrap01(h)*360, utils.Clamp(s, 0.0, 1.0), utils.Clamp(v, 0.0, 1.0))
	if err != nil {
		return Black
	}
	return Color{float64(r) / 255, float64(g) / 255, float64(b) / 255}
}

// ParseHex reads "#rrggbb" (the # is optional).
func ParseHex(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Black, eris.Wrapf(ErrInvalidColor, "failed to parse %q", s)
	}

	var c Color
	for i := range c {
		v, err := strconv.ParseUint(hex[2*i:2*i+2], 16, 8)
		if err != nil {
			return Black, eris.Wrapf(ErrInvalidColor, "failed to parse %q", s)
		}
		c[i] = float64(v) / 255
	}
	return c, nil
}

func repeat(c Color, n int) []Color {
	out := make([]Color, n)
	for i := range out {
		out[i] = c
	}
	return out
}

// stretchedHues spreads n hues around the circle starting at offset. Red and blue get more
// room, green and pink are compressed.
func stretchedHues(n int, offset float64) []float64 {
	const (
		max1 = 2.0 / 3
		max2 = 1.0 / 3
	)
	// the first curve compresses green (1/3), the second pink (5/6)
	first := func(x float64) float64 { return utils.Logistic(x, max1, 16, 1.0/3) }
	second := func(x float64) float64 { return utils.Logistic(x, max2, 16, 5.0/6) }

	curve := func(x float64) float64 {
		if x < 2.0/3 {
			// moved and stretched to start at 0 and end at max1
			yoffset := first(0)
			return max1 / (max1 - 2*yoffset) * (first(x) - yoffset)
		}
		yoffset := second(2.0 / 3)
		return max2/(max2-2*yoffset)*(second(x)-yoffset) + max1
	}

	hues := make([]float64, n)
	for i := range hues {
		hues[i] = utils.Wrap01(curve(utils.Wrap01(offset + float64(i)/float64(n))))
	}
	return hues
}

// stretchedHuesSpectrum maps n positions from red to blue without pink. The lowest eighth
// stays red.
func stretchedHuesSpectrum(n int) []float64 {
	const maxValue = 2.0 / 3
	curve := func(x float64) float64 { return utils.Logistic(x, maxValue, 12, 9.0/16) }
	yoffset := curve(1.0 / 8)
	scale := maxValue / (maxValue - 2*yoffset)

	hues := make([]float64, n)
	for i := range hues {
		x := float64(i) / float64(n)
		if x < 1.0/8 {
			continue
		}
		hues[i] = utils.Wrap01(scale*curve(x) - yoffset)
	}
	return hues
}

func spectrumColors(n int) []Color {
	hues := stretchedHuesSpectrum(n)
	colors := make([]Color, n)
	for i, h := range hues {
		colors[i] = HSV(h, 1, 1)
	}
	return colors
}

// aggregate averages frame into n bins. Bins take one extra value each until the remainder
// is used up.
func aggregate(frame []float64, n int) []float64 {
	out := make([]float64, n)
	if n <= 0 || len(frame) == 0 {
		return out
	}

	perBin := len(frame) / n
	left := len(frame) - perBin*n
	start := 0
	for i := range out {
		size := perBin
		if left > 0 {
			size++
			left--
		}
		if size == 0 {
			continue
		}
		sum := 0.0
		for _, v := range frame[start : start+size] {
			sum += v
		}
		out[i] = sum / float64(size)
		start += size
	}
	return out
}
