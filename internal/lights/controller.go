package lights

import (
	"context"
	"net"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/utils"
)

const (
	MinWLEDLEDs  = 2
	MaxWLEDLEDs  = 490
	MinWLEDPort  = 1024
	MaxWLEDPort  = 65535
	maxUPS       = 120.0
	maxSpeed     = 10.0
	wledSettings = "wled"
)

var (
	ErrInvalidValue = eris.New("value out of range")
	errInvalidIP    = eris.New("invalid ip")
)

// Controller persists lights settings and tells the manager which part of them changed.
// It never touches devices itself.
type Controller struct {
	settings *settings.Store
	bus      bus.Bus
}

func NewController(s *settings.Store, b bus.Bus) *Controller {
	return &Controller{settings: s, bus: b}
}

// SetProgram switches device to program. Setting the current program again does nothing.
func (c *Controller) SetProgram(ctx context.Context, device, program string) error {
	if err := c.checkDevice(device); err != nil {
		return err
	}
	available := bus.Get(c.bus, bus.LEDPrograms)
	if device == "screen" {
		available = bus.Get(c.bus, bus.ScreenPrograms)
	}
	if !slices.Contains(available, program) {
		return eris.Wrapf(ErrUnknownProgram, "%s on %s", program, device)
	}

	current, err := settings.Get(ctx, c.settings, settings.Program(device))
	if err != nil {
		return err
	}
	if current == program {
		return nil
	}
	if err := persistProgramChange(ctx, c.settings, device, program); err != nil {
		return err
	}
	c.changed(device)
	return nil
}

func (c *Controller) SetBrightness(ctx context.Context, device string, brightness float64) error {
	if err := c.checkDevice(device); err != nil {
		return err
	}
	if err := settings.Put(ctx, c.settings, settings.Brightness(device), utils.Clamp(brightness, 0.0, 1.0)); err != nil {
		return err
	}
	c.changed(device)
	return nil
}

func (c *Controller) SetMonochrome(ctx context.Context, device string, monochrome bool) error {
	if err := c.checkDevice(device); err != nil {
		return err
	}
	if err := settings.Put(ctx, c.settings, settings.Monochrome(device), monochrome); err != nil {
		return err
	}
	c.changed(device)
	return nil
}

// SetLightsShortcut turns all led devices off, or back on with the programs they ran
// before they were turned off.
func (c *Controller) SetLightsShortcut(ctx context.Context, enable bool) error {
	devices := []string{"ring", "wled", "strip"}

	enabled := false
	for _, device := range devices {
		program, err := settings.Get(ctx, c.settings, settings.Program(device))
		if err != nil {
			return err
		}
		enabled = enabled || program != disabledName
	}
	if enable == enabled {
		return nil
	}

	for _, device := range devices {
		program := disabledName
		if enable {
			last, err := settings.Get(ctx, c.settings, settings.LastProgram(device))
			if err != nil {
				return err
			}
			program = last
		}
		if err := persistProgramChange(ctx, c.settings, device, program); err != nil {
			return err
		}
		c.changed(device)
	}
	return nil
}

// SetUPS changes the frame rate of the lights loop.
func (c *Controller) SetUPS(ctx context.Context, ups float64) error {
	if ups <= 0 || ups > maxUPS {
		return eris.Wrapf(ErrInvalidValue, "ups %v", ups)
	}
	return c.putBase(settings.Put(ctx, c.settings, settings.UPS, ups))
}

func (c *Controller) SetProgramSpeed(ctx context.Context, speed float64) error {
	if speed < 0 || speed > maxSpeed {
		return eris.Wrapf(ErrInvalidValue, "program speed %v", speed)
	}
	return c.putBase(settings.Put(ctx, c.settings, settings.ProgramSpeed, speed))
}

// SetFixedColor takes a #rrggbb color.
func (c *Controller) SetFixedColor(ctx context.Context, hex string) error {
	color, err := ParseHex(hex)
	if err != nil {
		return err
	}
	return c.putBase(settings.Put(ctx, c.settings, settings.FixedColor, [3]float64(color)))
}

func (c *Controller) SetDynamicResolution(ctx context.Context, enabled bool) error {
	return c.putBase(settings.Put(ctx, c.settings, settings.DynamicResolution, enabled))
}

func (c *Controller) SetWLEDLEDCount(ctx context.Context, count int) error {
	if count < MinWLEDLEDs || count > MaxWLEDLEDs {
		return eris.Wrapf(ErrInvalidValue, "must be between %d and %d", MinWLEDLEDs, MaxWLEDLEDs)
	}
	if err := settings.Put(ctx, c.settings, settings.WLEDLEDCount, count); err != nil {
		return err
	}
	c.changed(wledSettings)
	return nil
}

func (c *Controller) SetWLEDIP(ctx context.Context, ip string) error {
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		return eris.Wrapf(errInvalidIP, "%q", ip)
	}
	if err := settings.Put(ctx, c.settings, settings.WLEDIP, ip); err != nil {
		return err
	}
	c.changed(wledSettings)
	return nil
}

func (c *Controller) SetWLEDPort(ctx context.Context, port int) error {
	if port < MinWLEDPort || port > MaxWLEDPort {
		return eris.Wrapf(ErrInvalidValue, "port %d", port)
	}
	if err := settings.Put(ctx, c.settings, settings.WLEDPort, port); err != nil {
		return err
	}
	c.changed(wledSettings)
	return nil
}

// AdjustScreen re-reads the screen size and restarts the screen program.
func (c *Controller) AdjustScreen() {
	c.bus.Publish(bus.LightsSettingsChanged, bus.LightsAdjustScreen)
}

// Stop ends the lights loop.
func (c *Controller) Stop() {
	c.bus.Publish(bus.LightsSettingsChanged, bus.LightsStop)
}

func (c *Controller) checkDevice(device string) error {
	if !slices.Contains(settings.Devices, device) {
		return eris.Wrapf(ErrUnknownDevice, "%q", device)
	}
	return nil
}

func (c *Controller) putBase(err error) error {
	if err != nil {
		return err
	}
	c.changed(bus.LightsBase)
	return nil
}

func (c *Controller) changed(what string) {
	c.bus.Publish(bus.LightsSettingsChanged, what)
	c.bus.Publish(bus.StateChanged, "lights")
}

// persistProgramChange stores program for device and remembers the one it replaces.
func persistProgramChange(ctx context.Context, s *settings.Store, device, program string) error {
	current, err := settings.Get(ctx, s, settings.Program(device))
	if err != nil {
		return err
	}
	if err := settings.Put(ctx, s, settings.LastProgram(device), current); err != nil {
		return err
	}
	return settings.Put(ctx, s, settings.Program(device), program)
}
