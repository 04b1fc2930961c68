package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/config"
	"github.com/cybre/ravebox/internal/lights"
	"github.com/cybre/ravebox/internal/ui"
	"github.com/cybre/ravebox/internal/yeelight"
)

type captureConfig struct {
	Device     *portaudio.DeviceInfo
	SampleRate float64
	FrameSize  int
	Channels   int
	Latency    time.Duration
}

// listInputs returns the audio devices and the index of the default input.
func listInputs() ([]*portaudio.DeviceInfo, int, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, -1, eris.Wrap(err, "enumerate audio devices")
	}
	defaultDevice, err := portaudio.DefaultInputDevice()
	if err != nil {
		return devices, -1, eris.Wrap(err, "resolve default audio input device")
	}
	return devices, defaultDevice.Index, nil
}

// selectBulbAndDevice picks the strip bulb and the capture device. Several bulbs, or a
// device index that was not configured, are chosen interactively; without a terminal the
// first bulb and the default device are used. Empty lists yield nil.
func selectBulbAndDevice(
	bulbs []*yeelight.Bulb,
	devices []*portaudio.DeviceInfo,
	defaultDeviceIndex int,
	requestedDevice int,
) (*yeelight.Bulb, *portaudio.DeviceInfo, error) {
	var (
		selectedBulb   *yeelight.Bulb
		selectedDevice *portaudio.DeviceInfo
	)

	if len(bulbs) == 1 {
		selectedBulb = bulbs[0]
	}
	if requestedDevice >= 0 && len(devices) > 0 {
		if requestedDevice >= len(devices) {
			return nil, nil, eris.Errorf("invalid device index %d", requestedDevice)
		}
		selectedDevice = devices[requestedDevice]
	}

	needBulb := selectedBulb == nil && len(bulbs) > 0
	needDevice := selectedDevice == nil && len(devices) > 0
	if !needBulb && !needDevice {
		return selectedBulb, selectedDevice, nil
	}

	initialDevice := effectiveInitialDeviceIndex(requestedDevice, defaultDeviceIndex, len(devices))

	var steps []ui.Step
	if needBulb {
		steps = append(steps, ui.Step{Name: "Strip bulb", Title: "Select the bulb acting as the strip", Options: buildBulbOptions(bulbs)})
	}
	if needDevice {
		steps = append(steps, ui.Step{
			Name:    "Audio input",
			Title:   "Select the audio input the lights react to",
			Options: buildDeviceOptions(devices),
			Initial: initialDevice,
		})
	}

	choices, err := ui.RunSetup(steps)
	if err != nil {
		if !eris.Is(err, ui.ErrNoInteractiveTTY) {
			return nil, nil, err
		}
		choices = make([]int, len(steps))
		if needDevice {
			choices[len(steps)-1] = initialDevice
		}
	}

	if needBulb {
		selectedBulb = bulbs[choices[0]]
	}
	if needDevice {
		selectedDevice = devices[choices[len(steps)-1]]
	}
	return selectedBulb, selectedDevice, nil
}

func buildBulbOptions(bulbs []*yeelight.Bulb) []ui.Option {
	options := make([]ui.Option, len(bulbs))
	for i, bulb := range bulbs {
		options[i] = ui.Option{
			Label: describeBulb(bulb),
		}
	}
	return options
}

func describeBulb(bulb *yeelight.Bulb) string {
	name := bulb.Name()
	if name == "" {
		name = "Yeelight"
	}
	id := bulb.ID()
	if id == "" {
		id = "n/a"
	}
	model := bulb.Model()
	if model == "" {
		model = "n/a"
	}
	fw := bulb.FirmwareVersion()
	if fw == "" {
		fw = "n/a"
	}

	return fmt.Sprintf("%s [%s] · model:%s · fw:%s · %s",
		name,
		id,
		model,
		fw,
		bulb.Addr(),
	)
}

func buildDeviceOptions(devices []*portaudio.DeviceInfo) []ui.Option {
	options := make([]ui.Option, len(devices))
	for i, dev := range devices {
		options[i] = ui.Option{
			Label: fmt.Sprintf(
				"[%d] %s · %.0fHz · in:%d · latency:%.1fms",
				i,
				dev.Name,
				dev.DefaultSampleRate,
				dev.MaxInputChannels,
				dev.DefaultLowInputLatency.Seconds()*1000,
			),
		}
	}
	return options
}

func effectiveInitialDeviceIndex(requested, fallback, length int) int {
	if length == 0 {
		return 0
	}
	if requested >= 0 && requested < length {
		return requested
	}
	if fallback >= 0 && fallback < length {
		return fallback
	}
	return 0
}

func buildCaptureConfig(device *portaudio.DeviceInfo, cfg config.CaptureConfig) captureConfig {
	return captureConfig{
		Device:     device,
		SampleRate: effectiveSampleRate(cfg.SampleRate, device.DefaultSampleRate),
		FrameSize:  effectiveFrameSize(cfg.FrameSize),
		Channels:   sanitizeChannelCount(cfg.Channels, device.MaxInputChannels),
		Latency:    cfg.Latency,
	}
}

func sanitizeChannelCount(requested, max int) int {
	if requested <= 0 {
		return 1
	}

	if max > 0 && requested > max {
		return max
	}

	return requested
}

func effectiveSampleRate(requested, deviceDefault float64) float64 {
	if requested > 0 {
		return requested
	}

	if deviceDefault > 0 {
		return deviceDefault
	}

	return 44100
}

func effectiveFrameSize(requested int) int {
	if requested > 0 {
		return requested
	}

	return 1024
}

// captureFunc opens a PortAudio input stream each time the builtin feed starts. Buffers the
// feed has no room for are dropped.
func captureFunc(logger *slog.Logger, cfg captureConfig) lights.CaptureFunc {
	return func(ctx context.Context, out chan<- []float32) error {
		logger.Info("using audio input device",
			slog.String("name", cfg.Device.Name),
			slog.Float64("sample_rate", cfg.SampleRate),
			slog.Int("channels", cfg.Channels),
			slog.Int("frame_size", cfg.FrameSize))

		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   cfg.Device,
				Channels: cfg.Channels,
				Latency:  cfg.Device.DefaultLowInputLatency,
			},
			SampleRate:      cfg.SampleRate,
			FramesPerBuffer: cfg.FrameSize,
		}
		if cfg.Latency > 0 {
			params.Input.Latency = cfg.Latency
		}

		stream, err := portaudio.OpenStream(params, func(in []float32) {
			frame := make([]float32, len(in))
			copy(frame, in)

			select {
			case out <- frame:
			default:
			}
		})
		if err != nil {
			return eris.Wrap(err, "open audio stream")
		}
		defer stream.Close()

		if err := stream.Start(); err != nil {
			return eris.Wrap(err, "start audio stream")
		}
		defer stream.Stop()

		<-ctx.Done()
		return ctx.Err()
	}
}
