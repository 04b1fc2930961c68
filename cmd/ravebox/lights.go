package main

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/config"
	"github.com/cybre/ravebox/internal/hw"
	"github.com/cybre/ravebox/internal/lights"
	"github.com/cybre/ravebox/internal/ui"
	"github.com/cybre/ravebox/internal/yeelight"
)

// bulbSpacing keeps a music mode bulb from being flooded with commands.
const bulbSpacing = 25 * time.Millisecond

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// lightsHardware is everything opened for the lights manager. Devices that fail to open
// are left out and stay uninitialized.
type lightsHardware struct {
	options lights.Options
	closers []func()
}

func (h *lightsHardware) close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

func (h *lightsHardware) onClose(fn func()) {
	h.closers = append(h.closers, fn)
}

func openLights(ctx context.Context, cfg config.LightsConfig, logger *slog.Logger) (*lightsHardware, error) {
	h := &lightsHardware{}
	h.options.Feed = cfg.Feed
	h.options.WLED = cfg.WLED.Enabled
	h.options.Cava = lights.CavaOptions{
		Binary:     cfg.Cava.Binary,
		FIFOPath:   cfg.Cava.FIFO,
		ConfigPath: cfg.Cava.Config,
		Logger:     logger,
	}

	if cfg.Ring.Enabled {
		h.openRing(cfg.Ring, logger)
	}

	var (
		bulbs  []*yeelight.Bulb
		inputs []*portaudio.DeviceInfo
		input  = -1
	)
	if cfg.Strip.Driver == config.StripYeelight {
		var err error
		if bulbs, err = resolveBulbs(ctx, cfg.Strip.Bulb); err != nil {
			logger.Warn("no strip bulb available", slog.Any("error", err))
		}
	}
	if cfg.Feed == config.FeedBuiltin {
		if err := portaudio.Initialize(); err != nil {
			h.close()
			return nil, eris.Wrap(err, "initialize PortAudio")
		}
		h.onClose(func() { _ = portaudio.Terminate() })

		var err error
		if inputs, input, err = listInputs(); err != nil {
			logger.Warn("no audio input available", slog.Any("error", err))
		}
	}

	bulb, device, err := selectBulbAndDevice(bulbs, inputs, input, cfg.Capture.Device)
	if err != nil {
		h.close()
		return nil, eris.Wrap(err, "select bulb/device")
	}

	switch cfg.Strip.Driver {
	case config.StripPCA9685:
		h.openPWMStrip(cfg.Strip, logger)
	case config.StripYeelight:
		if bulb != nil {
			h.openBulbStrip(ctx, bulb, logger)
		}
	}

	if device != nil {
		capture := buildCaptureConfig(device, cfg.Capture)
		if device.MaxInputChannels < 1 {
			logger.Warn("audio device has no input channels, select a loopback/monitor device",
				slog.String("device", device.Name))
		} else {
			h.options.Builtin = lights.BuiltinOptions{
				Capture:    captureFunc(logger, capture),
				SampleRate: capture.SampleRate,
				FrameSize:  capture.FrameSize,
				Channels:   capture.Channels,
				Logger:     logger,
			}
		}
	}

	if cfg.Screen.Enabled {
		h.options.VideoPath = config.ExpandPath(cfg.Screen.Video)
		if ui.IsInteractive() {
			h.options.Display = func() (lights.Display, error) {
				return ui.NewVisualizer(ui.VisualizerOptions{}), nil
			}
			h.options.TerminalSize = ui.TerminalSize
		}
	}

	return h, nil
}

func (h *lightsHardware) openRing(cfg config.RingConfig, logger *slog.Logger) {
	spi, err := hw.OpenSPI(cfg.SPI, hw.WS281xSPISpeed)
	if err != nil {
		logger.Warn("ring unavailable", slog.String("spi", cfg.SPI), slog.Any("error", err))
		return
	}
	ring := hw.NewWS281x(spi)
	h.options.Ring = ring
	h.onClose(func() { _ = ring.Close() })

	if cfg.StatusLED == "" {
		return
	}
	led, err := hw.OpenStatusLED(cfg.StatusLED)
	if err != nil {
		logger.Warn("status led unavailable", slog.String("path", cfg.StatusLED), slog.Any("error", err))
		return
	}
	h.options.StatusLED = led
}

func (h *lightsHardware) openPWMStrip(cfg config.StripConfig, logger *slog.Logger) {
	bus, err := hw.OpenI2C(cfg.I2C, cfg.I2CAddress)
	if err != nil {
		logger.Warn("strip unavailable", slog.String("i2c", cfg.I2C), slog.Any("error", err))
		return
	}
	pca := hw.NewPCA9685(bus)
	if err := pca.Init(cfg.PWMFrequency); err != nil {
		logger.Warn("strip controller did not initialize", slog.Any("error", err))
		_ = bus.Close()
		return
	}
	h.options.Strip = lights.NewPWMStrip(pca)
	h.onClose(func() { _ = bus.Close() })
}

func (h *lightsHardware) openBulbStrip(ctx context.Context, bulb *yeelight.Bulb, logger *slog.Logger) {
	logger.Info(
		"using yeelight bulb",
		slog.String("id", bulb.ID()),
		slog.String("name", bulb.Name()),
		slog.String("model", bulb.Model()),
		slog.String("firmware_version", bulb.FirmwareVersion()),
	)

	if err := bulb.Connect(ctx); err != nil {
		logger.Warn("strip bulb unreachable", slog.Any("error", err))
		return
	}
	if bulb.Power() != yeelight.PowerOn {
		if err := bulb.TurnOn(ctx, yeelight.Smooth, 250); err != nil {
			logger.Warn("failed to turn on bulb", slog.Any("error", err))
		}
	}

	port := randomMusicModePort()
	logger.Info("starting music mode", slog.Int("port", int(port)))
	music, err := bulb.StartMusicMode(ctx, port)
	if err != nil {
		logger.Warn("music mode failed", slog.Any("error", err))
		_ = bulb.Disconnect()
		return
	}
	h.options.Strip = lights.NewBulbStrip(music, bulbSpacing)

	h.onClose(func() {
		ctx := context.WithoutCancel(ctx)
		_ = music.Close()
		if err := bulb.StopMusicMode(ctx); err != nil {
			logger.Warn("failed to stop music mode", slog.Any("error", err))
		}
		if err := bulb.TurnOff(ctx, yeelight.Smooth, 100); err != nil {
			logger.Warn("failed to turn off bulb", slog.Any("error", err))
		}
		if err := bulb.Disconnect(); err != nil {
			logger.Warn("failed to disconnect from bulb", slog.Any("error", err))
		}
	})
}

// resolveBulbs returns the configured bulb, or every bulb answering a discovery.
func resolveBulbs(ctx context.Context, addr string) ([]*yeelight.Bulb, error) {
	if addr != "" {
		bulb, err := yeelight.NewBulbFromAddress(addr)
		if err != nil {
			return nil, eris.Wrap(err, "parse bulb address")
		}
		return []*yeelight.Bulb{bulb}, nil
	}

	bulbs, err := yeelight.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(bulbs) == 0 {
		return nil, eris.New("no bulbs available")
	}
	return bulbs, nil
}

func randomMusicModePort() uint16 {
	const base = 55000
	const span = 5000
	return uint16(base + rng.Intn(span))
}
