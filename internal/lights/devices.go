package lights

import (
	"context"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/hw"
	"github.com/cybre/ravebox/internal/utils"
	"github.com/cybre/ravebox/internal/yeelight"
)

const (
	// led 0 of the ring sits at the bottom
	ringOffset = 12

	// DRGB: every led in every packet, back to normal mode 1s after the last packet
	wledProtocol    = 2
	wledTimeout     = 1
	defaultWLEDAddr = "255.255.255.255"
)

// Device is one visualization target. Devices that failed to initialize ignore every
// write and keep the disabled program.
type Device struct {
	name        string
	brightness  float64
	monochrome  bool
	initialized bool
	program     *UsageCounter
}

func (d *Device) Name() string      { return d.name }
func (d *Device) Initialized() bool { return d.initialized }

// PixelWriter takes the pixels of an addressable led chain, e.g. hw.WS281x.
type PixelWriter interface {
	WritePixels(pixels [][3]uint8) error
}

// StatusLight is an indicator lit while the ring is dark, e.g. hw.StatusLED.
type StatusLight interface {
	Set(on bool) error
}

type ring struct {
	Device
	out    PixelWriter
	status StatusLight
	pixels [][3]uint8
}

func newRing(out PixelWriter, status StatusLight) *ring {
	return &ring{
		Device: Device{name: "ring", initialized: out != nil},
		out:    out,
		status: status,
		pixels: make([][3]uint8, RingLEDCount),
	}
}

func (r *ring) setColors(colors []Color) error {
	if !r.initialized {
		return nil
	}
	for led := range RingLEDCount {
		c := colors[led].Scale(r.brightness)
		r.pixels[(led+ringOffset)%RingLEDCount] = [3]uint8{utils.ScaleByte(c[0]), utils.ScaleByte(c[1]), utils.ScaleByte(c[2])}
	}
	return r.out.WritePixels(r.pixels)
}

func (r *ring) clear() error {
	if !r.initialized {
		return nil
	}
	clear(r.pixels)
	return r.out.WritePixels(r.pixels)
}

// setStatus lights the status indicator while the ring shows nothing.
func (r *ring) setStatus(on bool) error {
	if r.status == nil {
		return nil
	}
	return r.status.Set(on)
}

// DialFunc opens the UDP socket WLED packets are sent on.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type wled struct {
	Device
	dial  DialFunc
	ip    string
	port  int
	count int

	conn     net.Conn
	connAddr string
}

func newWLED(enabled bool, dial DialFunc) *wled {
	if dial == nil {
		dial = hw.DialBroadcastUDP
	}
	return &wled{Device: Device{name: "wled", initialized: enabled}, dial: dial}
}

func (w *wled) addr() string {
	ip := w.ip
	if ip == "" {
		ip = defaultWLEDAddr
	}
	return net.JoinHostPort(ip, strconv.Itoa(w.port))
}

// wledPacket encodes colors as a DRGB packet.
func wledPacket(colors []Color, brightness float64) []byte {
	packet := make([]byte, 0, 2+3*len(colors))
	packet = append(packet, wledProtocol, wledTimeout)
	for _, c := range colors {
		for _, v := range c {
			packet = append(packet, utils.RoundByte(v*brightness))
		}
	}
	return packet
}

func (w *wled) setColors(ctx context.Context, colors []Color) error {
	if !w.initialized {
		return nil
	}

	addr := w.addr()
	if w.conn == nil || w.connAddr != addr {
		w.close()
		conn, err := w.dial(ctx, addr)
		if err != nil {
			return err
		}
		w.conn, w.connAddr = conn, addr
	}

	if _, err := w.conn.Write(wledPacket(colors, w.brightness)); err != nil {
		return eris.Wrap(err, "failed to send wled packet")
	}
	return nil
}

func (w *wled) clear(ctx context.Context) error {
	return w.setColors(ctx, repeat(Black, w.count))
}

func (w *wled) close() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// StripDriver shows one color on an analog strip. Channels are dimmed values in [0,1].
type StripDriver interface {
	SetColor(ctx context.Context, c Color) error
}

type strip struct {
	Device
	out StripDriver
}

func newStrip(out StripDriver) *strip {
	return &strip{Device: Device{name: "strip", initialized: out != nil}, out: out}
}

func (s *strip) setColor(ctx context.Context, c Color) error {
	if !s.initialized {
		return nil
	}
	return s.out.SetColor(ctx, c.Scale(s.brightness))
}

func (s *strip) clear(ctx context.Context) error {
	return s.setColor(ctx, Black)
}

// ChannelWriter drives PWM channels with 12 bit values, e.g. hw.PCA9685.
type ChannelWriter interface {
	SetChannel(channel int, value uint16) error
}

// PWMStrip drives the red, green and blue channels 0, 1 and 2 of a PWM controller.
type PWMStrip struct {
	out ChannelWriter
}

func NewPWMStrip(out ChannelWriter) *PWMStrip {
	return &PWMStrip{out: out}
}

func (p *PWMStrip) SetColor(_ context.Context, c Color) error {
	for channel, v := range c {
		value := uint16(math.Round(utils.Clamp(v, 0.0, 1.0) * hw.PCA9685Max))
		if err := p.out.SetChannel(channel, value); err != nil {
			return err
		}
	}
	return nil
}

// RGBSetter is a color bulb, e.g. a yeelight bulb in music mode.
type RGBSetter interface {
	SetRGB(ctx context.Context, r, g, b uint8, effect yeelight.Effect, duration int) error
}

// BulbStrip shows the strip color on a bulb. Repeated colors are not sent again and
// updates are spaced so the bulb keeps up.
type BulbStrip struct {
	bulb     RGBSetter
	spacing  time.Duration
	last     [3]uint8
	lastSent time.Time
	sent     bool
}

func NewBulbStrip(bulb RGBSetter, spacing time.Duration) *BulbStrip {
	return &BulbStrip{bulb: bulb, spacing: spacing}
}

func (b *BulbStrip) SetColor(ctx context.Context, c Color) error {
	rgb := [3]uint8{utils.RoundByte(c[0]), utils.RoundByte(c[1]), utils.RoundByte(c[2])}
	if b.sent && (rgb == b.last || time.Since(b.lastSent) < b.spacing) {
		return nil
	}
	if err := b.bulb.SetRGB(ctx, rgb[0], rgb[1], rgb[2], yeelight.Sudden, 0); err != nil {
		return err
	}
	b.last, b.lastSent, b.sent = rgb, time.Now(), true
	return nil
}

// screen is the display device. Its programs own the display themselves.
type screen struct {
	Device
	size func() (int, int, error)
}

func newScreen(enabled bool, size func() (int, int, error)) *screen {
	return &screen{Device: Device{name: "screen", initialized: enabled}, size: size}
}
