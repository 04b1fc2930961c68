package yeelight

import (
	"net/netip"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
)

var (
	ErrBrightnessInvalid = eris.New("brightness must be between 1 and 100")
	ErrNotConnected      = eris.New("bulb is not connected")
)

// PowerStatus is the power property reported by a bulb.
type PowerStatus string

const (
	PowerOn  PowerStatus = "on"
	PowerOff PowerStatus = "off"
)

// ColorMode is the color_mode property: which of rgb, ct or hue/sat is in effect.
type ColorMode uint8

const (
	ColorModeRGB ColorMode = iota + 1
	ColorModeTemperature
	ColorModeHSV
)

// Effect selects how a bulb transitions to a new state.
type Effect string

const (
	Sudden Effect = "sudden"
	Smooth Effect = "smooth"
)

// bulbInfo holds the last known properties of a bulb, filled from discovery, polling and
// notifications.
type bulbInfo struct {
	addr netip.AddrPort

	id              string
	model           string
	firmwareVersion string
	support         []string
	name            string

	power            PowerStatus
	brightness       uint8
	colorMode        ColorMode
	colorTemperature uint16
	rgb              uint
	hue              uint16
	saturation       uint8
}

func (bi *bulbInfo) Addr() netip.AddrPort    { return bi.addr }
func (bi *bulbInfo) ID() string              { return bi.id }
func (bi *bulbInfo) Model() string           { return bi.model }
func (bi *bulbInfo) FirmwareVersion() string { return bi.firmwareVersion }
func (bi *bulbInfo) Name() string            { return bi.name }
func (bi *bulbInfo) Power() PowerStatus      { return bi.power }
func (bi *bulbInfo) Brightness() uint8       { return bi.brightness }
func (bi *bulbInfo) RGB() uint               { return bi.rgb }

// Supports reports whether the bulb advertised method during discovery.
func (bi *bulbInfo) Supports(method string) bool {
	return lo.Contains(bi.support, method)
}
