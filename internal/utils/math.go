package utils

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp constrains v to the range [minVal, maxVal].
func Clamp[T constraints.Ordered](v, minVal, maxVal T) T {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// SpectralBalance returns the normalized contribution of a within (a+b).
func SpectralBalance(a, b float64) float64 {
	total := a + b
	if total <= 1e-9 {
		return 0.5
	}
	return Clamp(a/total, 0.0, 1.0)
}

// ClampIndex bounds idx to the valid range for a slice of length.
func ClampIndex(idx, length int) int {
	if length <= 0 {
		return 0
	}
	if idx < 0 {
		return 0
	}
	if idx >= length {
		return length - 1
	}
	return idx
}

// Wrap maps idx onto 0..length-1 cyclically.
func Wrap(idx, length int) int {
	if length <= 0 {
		return 0
	}
	idx %= length
	if idx < 0 {
		idx += length
	}
	return idx
}

// Logistic evaluates max / (1 + e^(-steepness*(x-center))).
func Logistic(x, maxVal, steepness, center float64) float64 {
	return maxVal / (1 + math.Exp(-steepness*(x-center)))
}

// Wrap01 maps v into [0, 1) the way a modulo on a hue circle would.
func Wrap01(v float64) float64 {
	v = math.Mod(v, 1)
	if v < 0 {
		v++
	}
	return v
}

// ScaleByte converts a [0,1] intensity into 0..255, truncating like an int cast.
func ScaleByte(v float64) uint8 {
	return uint8(Clamp(v, 0.0, 1.0) * 255)
}

// RoundByte converts a [0,1] intensity into 0..255 with rounding.
func RoundByte(v float64) uint8 {
	return uint8(math.Round(Clamp(v, 0.0, 1.0) * 255))
}

// RGBToInt packs 8-bit channels into 0xRRGGBB.
func RGBToInt(r, g, b uint8) uint {
	return uint(r)<<16 | uint(g)<<8 | uint(b)
}
