package yeelight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"
)

const (
	propertyPollInterval   = 2 * time.Second
	commandResponseTimeout = 3 * time.Second
	musicAcceptTimeout     = 5 * time.Second
)

// order of the properties requested by get_prop and announced during discovery
var polledProperties = []string{"power", "bright", "color_mode", "ct", "rgb", "hue", "sat", "name"}

type commandError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

type commandResult struct {
	ID     int           `json:"id"`
	Result []string      `json:"result"`
	Error  *commandError `json:"error"`
}

type notification struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Bulb is a bulb reached over its TCP control connection. Commands wait for the bulb's
// answer; music mode hands out a second, fire-and-forget connection.
type Bulb struct {
	bulbBase
	results     chan commandResult
	stopListen  context.CancelFunc
	musicCancel context.CancelFunc
}

func newBulb(addr netip.AddrPort) *Bulb {
	results := make(chan commandResult)
	return &Bulb{
		bulbBase: bulbBase{
			bulbInfo:        &bulbInfo{addr: addr},
			commandCallback: getCommandExecutionCallback(results, commandResponseTimeout),
		},
		results: results,
	}
}

// Connect dials the control port and starts reading answers and property notifications
// until ctx ends or Disconnect is called.
func (bb *Bulb) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", bb.Addr().String())
	if err != nil {
		return eris.Wrap(err, "failed to connect to bulb")
	}
	bb.conn = conn

	listenCtx, cancel := context.WithCancel(ctx)
	bb.stopListen = cancel

	addr := bb.Addr().String()
	go bb.pollProperties(listenCtx, addr)
	go bb.readMessages(listenCtx, addr)

	return nil
}

// Disconnect leaves music mode if needed and closes the control connection.
func (bb *Bulb) Disconnect() error {
	if bb.musicCancel != nil {
		bb.musicCancel()
		bb.musicCancel = nil
	}
	if bb.stopListen != nil {
		bb.stopListen()
	}
	if bb.conn == nil {
		return nil
	}
	return bb.conn.Close()
}

// StartMusicMode asks the bulb to connect back to us on port. Commands sent on the returned
// bulb are not acknowledged and not rate limited by the bulb.
func (bb *Bulb) StartMusicMode(ctx context.Context, port uint16) (*MusicModeBulb, error) {
	if bb.conn == nil {
		return nil, ErrNotConnected
	}

	local, ok := bb.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, eris.New("invalid local address")
	}
	ip := local.IP.String()

	ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(int(port))))
	if err != nil {
		return nil, eris.Wrap(err, "failed to start music mode listener")
	}
	defer ln.Close()

	if _, err = bb.executeCommand(ctx, "set_music", 1, ip, port); err != nil {
		return nil, err
	}

	if tcp, ok := ln.(*net.TCPListener); ok {
		if err := tcp.SetDeadline(time.Now().Add(musicAcceptTimeout)); err != nil {
			return nil, eris.Wrap(err, "failed to set music mode accept deadline")
		}
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil, eris.Wrap(err, "failed to accept connection from bulb")
	}

	musicCtx, cancel := context.WithCancel(ctx)
	bb.musicCancel = cancel
	go func() {
		<-musicCtx.Done()
		conn.Close()
	}()

	return newMusicModeBulb(bb.bulbInfo, conn), nil
}

// StopMusicMode closes the music connection and tells the bulb to leave music mode.
func (bb *Bulb) StopMusicMode(ctx context.Context) error {
	if bb.musicCancel != nil {
		bb.musicCancel()
		bb.musicCancel = nil
	}

	_, err := bb.executeCommand(ctx, "set_music", 0)
	return err
}

func (bb *Bulb) pollProperties(ctx context.Context, addr string) {
	ticker := time.NewTicker(propertyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			props, err := bb.executeCommand(ctx, "get_prop", lo.ToAnySlice(polledProperties)...)
			if err != nil {
				if !eris.Is(err, context.Canceled) {
					slog.Error("failed to get bulb props",
						slog.String("addr", addr),
						slog.Any("error", err),
					)
				}
				continue
			}
			bb.updatePropertiesFromSlice(props, addr)
		}
	}
}

func (bb *Bulb) readMessages(ctx context.Context, addr string) {
	buf := make([]byte, 1024)

	for ctx.Err() == nil {
		n, err := bb.conn.Read(buf)
		if err != nil {
			if !eris.Is(err, net.ErrClosed) {
				slog.Error("failed to read data from bulb connection",
					slog.String("addr", addr),
					slog.Any("error", err),
				)
			}
			return
		}

		bb.handleIncomingPayload(ctx, string(buf[:n]), addr)
	}
}

func (bb *Bulb) handleIncomingPayload(ctx context.Context, payload, addr string) {
	slog.Debug("received response from bulb",
		slog.String("addr", addr),
		slog.String("response", payload),
	)

	for raw := range strings.SplitSeq(payload, lineEnding) {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, `{"id":`):
			var result commandResult
			if err := json.Unmarshal([]byte(line), &result); err != nil {
				slog.Error("failed to unmarshal command result",
					slog.String("addr", addr),
					slog.String("json", line),
					slog.Any("error", err),
				)
				continue
			}
			select {
			case bb.results <- result:
			case <-ctx.Done():
				return
			}
		case strings.HasPrefix(line, `{"method":`):
			var note notification
			if err := json.Unmarshal([]byte(line), &note); err != nil {
				slog.Error("failed to unmarshal notification",
					slog.String("addr", addr),
					slog.String("json", line),
					slog.Any("error", err),
				)
				continue
			}
			if note.Method == "props" {
				for key, value := range note.Params {
					bb.setProperty(key, fmt.Sprint(value), addr)
				}
			}
		}
	}
}

func (bb *Bulb) updatePropertiesFromSlice(props []string, addr string) {
	for i, prop := range props {
		if i < len(polledProperties) {
			bb.setProperty(polledProperties[i], prop, addr)
		}
	}
}

// setProperty stores one property value. Empty values leave the property untouched.
func (bb *Bulb) setProperty(name, value, addr string) {
	if value == "" {
		return
	}

	switch name {
	case "power":
		bb.power = PowerStatus(value)
	case "name":
		bb.name = value
	case "bright":
		if v, ok := parseUint(value, 8, name, addr); ok {
			bb.brightness = uint8(v)
		}
	case "color_mode":
		if v, ok := parseUint(value, 8, name, addr); ok {
			bb.colorMode = ColorMode(v)
		}
	case "ct":
		if v, ok := parseUint(value, 16, name, addr); ok {
			bb.colorTemperature = uint16(v)
		}
	case "rgb":
		if v, ok := parseUint(value, 32, name, addr); ok {
			bb.rgb = uint(v)
		}
	case "hue":
		if v, ok := parseUint(value, 16, name, addr); ok {
			bb.hue = uint16(v)
		}
	case "sat":
		if v, ok := parseUint(value, 8, name, addr); ok {
			bb.saturation = uint8(v)
		}
	}
}

// parseUint accepts plain integers and the float formatting JSON numbers get.
func parseUint(value string, bitSize int, field, addr string) (uint64, bool) {
	v, err := strconv.ParseUint(value, 10, bitSize)
	if err == nil {
		return v, true
	}
	if f, ferr := strconv.ParseFloat(value, 64); ferr == nil && f >= 0 {
		return uint64(f), true
	}

	slog.Warn("failed to convert bulb property",
		slog.String("addr", addr),
		slog.String("field", field),
		slog.Any("error", err),
	)
	return 0, false
}

func getCommandExecutionCallback(results <-chan commandResult, wait time.Duration) func(context.Context, command) ([]string, error) {
	return func(ctx context.Context, cmd command) ([]string, error) {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		for {
			select {
			case result := <-results:
				if result.ID != cmd.ID {
					// answer to an earlier command that already timed out
					continue
				}
				if result.Error != nil {
					return nil, eris.Wrapf(result.Error, "failed to execute command %s (%v)", cmd.Method, cmd.Params)
				}
				if len(result.Result) == 1 && result.Result[0] == "ok" {
					return nil, nil
				}
				return result.Result, nil
			case <-timer.C:
				return nil, eris.New("command timed out")
			case <-ctx.Done():
				return nil, eris.Wrapf(ctx.Err(), "failed to execute command %s (%v)", cmd.Method, cmd.Params)
			}
		}
	}
}
