package yeelight

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/utils"
)

type bulbBase struct {
	*bulbInfo

	// serializes a command write with the wait for its answer
	mu            sync.Mutex
	conn          net.Conn
	lastCommandID int

	commandCallback func(context.Context, command) ([]string, error)
}

func (bb *bulbBase) TurnOn(ctx context.Context, effect Effect, duration int) error {
	if _, err := bb.executeCommand(ctx, "set_power", "on", effect, duration); err != nil {
		return err
	}

	bb.power = PowerOn

	return nil
}

func (bb *bulbBase) TurnOff(ctx context.Context, effect Effect, duration int) error {
	if _, err := bb.executeCommand(ctx, "set_power", "off", effect, duration); err != nil {
		return err
	}

	bb.power = PowerOff

	return nil
}

func (bb *bulbBase) SetBrightness(ctx context.Context, brightness uint8, effect Effect, duration int) error {
	if brightness < 1 || brightness > 100 {
		return eris.Wrap(ErrBrightnessInvalid, "failed to set brightness")
	}

	if _, err := bb.executeCommand(ctx, "set_bright", brightness, effect, duration); err != nil {
		return err
	}

	bb.brightness = brightness

	return nil
}

func (bb *bulbBase) SetRGB(ctx context.Context, r, g, b uint8, effect Effect, duration int) error {
	rgb := utils.RGBToInt(r, g, b)

	if _, err := bb.executeCommand(ctx, "set_rgb", rgb, effect, duration); err != nil {
		return err
	}

	bb.rgb = rgb

	return nil
}

func (bb *bulbBase) executeCommand(ctx context.Context, method string, params ...any) ([]string, error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to execute command")
	}
	if bb.conn == nil {
		return nil, ErrNotConnected
	}

	bb.lastCommandID++
	cmd := newCommand(bb.lastCommandID, method, params...)
	text, err := cmd.String()
	if err != nil {
		return nil, err
	}

	slog.Debug("executing command",
		slog.String("addr", bb.Addr().String()),
		slog.Int("id", cmd.ID),
		slog.String("method", method),
		slog.Any("params", cmd.Params),
	)

	if _, err = bb.conn.Write([]byte(text)); err != nil {
		return nil, eris.Wrap(err, "failed to write command to connection")
	}

	return bb.commandCallback(ctx, cmd)
}
