package hw

import "io"

const (
	// SPI clock that makes three SPI bits last one WS281x bit period
	WS281xSPISpeed = 2_400_000
	// low time after the last pixel, long enough for newer chips to latch
	ws281xResetBytes = 90
	ws281xBitOne     = 0b110
	ws281xBitZero    = 0b100
)

// EncodeWS281x turns RGB pixels into the SPI bitstream a WS281x chain expects: GRB order,
// every data bit stretched to three SPI bits, followed by the reset gap.
func EncodeWS281x(pixels [][3]uint8) []byte {
	out := make([]byte, 0, len(pixels)*9+ws281xResetBytes)

	var acc uint32
	bits := 0
	for _, p := range pixels {
		for _, c := range [3]uint8{p[1], p[0], p[2]} {
			for bit := 7; bit >= 0; bit-- {
				pattern := uint32(ws281xBitZero)
				if c&(1<<bit) != 0 {
					pattern = ws281xBitOne
				}
				acc = acc<<3 | pattern
				bits += 3
				for bits >= 8 {
					out = append(out, byte(acc>>(bits-8)))
					bits -= 8
				}
			}
		}
	}

	return append(out, make([]byte, ws281xResetBytes)...)
}

// WS281x drives a chain of WS281x LEDs through a byte sink, usually a spidev device.
type WS281x struct {
	out io.WriteCloser
}

func NewWS281x(out io.WriteCloser) *WS281x {
	return &WS281x{out: out}
}

// WritePixels sends one frame. Pixels are RGB.
func (w *WS281x) WritePixels(pixels [][3]uint8) error {
	_, err := w.out.Write(EncodeWS281x(pixels))
	return err
}

func (w *WS281x) Close() error {
	return w.out.Close()
}
