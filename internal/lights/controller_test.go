package lights

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/settings"
)

func newTestController(t *testing.T) (*Controller, *settings.Store, *bus.Subscription) {
	t.Helper()
	s, b := newTestSettings(t)
	bus.Put(b, bus.LEDPrograms, []string{"Disabled", "Fixed", "Rainbow"})
	bus.Put(b, bus.ScreenPrograms, []string{"Disabled", "Spectrum"})
	sub := b.Subscribe(bus.LightsSettingsChanged)
	t.Cleanup(sub.Close)
	return NewController(s, b), s, sub
}

func pending(sub *bus.Subscription) []string {
	var msgs []string
	for {
		select {
		case msg := <-sub.C():
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestSetProgramValidates(t *testing.T) {
	c, _, sub := newTestController(t)
	ctx := context.Background()

	assert.True(t, eris.Is(c.SetProgram(ctx, "lamp", "Fixed"), ErrUnknownDevice))
	assert.True(t, eris.Is(c.SetProgram(ctx, "ring", "Strobe"), ErrUnknownProgram))
	assert.True(t, eris.Is(c.SetProgram(ctx, "ring", "Spectrum"), ErrUnknownProgram), "screen programs are not led programs")
	assert.True(t, eris.Is(c.SetProgram(ctx, "screen", "Rainbow"), ErrUnknownProgram))
	assert.Empty(t, pending(sub))
}

func TestSetProgramRemembersPreviousProgram(t *testing.T) {
	c, s, sub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetProgram(ctx, "ring", "Fixed"))
	require.NoError(t, c.SetProgram(ctx, "ring", "Rainbow"))
	assert.Equal(t, "Rainbow", settings.MustGet(ctx, s, settings.Program("ring")))
	assert.Equal(t, "Fixed", settings.MustGet(ctx, s, settings.LastProgram("ring")))
	assert.Equal(t, []string{"ring", "ring"}, pending(sub))

	// unchanged programs are not announced
	require.NoError(t, c.SetProgram(ctx, "ring", "Rainbow"))
	assert.Empty(t, pending(sub))
}

func TestLightsShortcut(t *testing.T) {
	c, s, sub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetProgram(ctx, "ring", "Fixed"))
	require.NoError(t, c.SetProgram(ctx, "wled", "Rainbow"))
	pending(sub)

	require.NoError(t, c.SetLightsShortcut(ctx, false))
	for _, device := range []string{"ring", "wled", "strip"} {
		assert.Equal(t, "Disabled", settings.MustGet(ctx, s, settings.Program(device)), device)
	}
	assert.ElementsMatch(t, []string{"ring", "wled", "strip"}, pending(sub))

	// already off
	require.NoError(t, c.SetLightsShortcut(ctx, false))
	assert.Empty(t, pending(sub))

	require.NoError(t, c.SetLightsShortcut(ctx, true))
	assert.Equal(t, "Fixed", settings.MustGet(ctx, s, settings.Program("ring")))
	assert.Equal(t, "Rainbow", settings.MustGet(ctx, s, settings.Program("wled")))
	assert.Equal(t, "Disabled", settings.MustGet(ctx, s, settings.Program("strip")))
}

func TestSetBrightnessClamps(t *testing.T) {
	c, s, sub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetBrightness(ctx, "strip", 1.7))
	assert.Equal(t, 1.0, settings.MustGet(ctx, s, settings.Brightness("strip")))
	require.NoError(t, c.SetMonochrome(ctx, "wled", true))
	assert.True(t, settings.MustGet(ctx, s, settings.Monochrome("wled")))
	assert.Equal(t, []string{"strip", "wled"}, pending(sub))
}

func TestBaseSettings(t *testing.T) {
	c, s, sub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetUPS(ctx, 60))
	require.NoError(t, c.SetProgramSpeed(ctx, 2))
	require.NoError(t, c.SetFixedColor(ctx, "#ff0000"))
	require.NoError(t, c.SetDynamicResolution(ctx, true))
	assert.Equal(t, 60.0, settings.MustGet(ctx, s, settings.UPS))
	assert.Equal(t, [3]float64{1, 0, 0}, settings.MustGet(ctx, s, settings.FixedColor))
	assert.Equal(t, []string{"base", "base", "base", "base"}, pending(sub))

	assert.True(t, eris.Is(c.SetUPS(ctx, 0), ErrInvalidValue))
	assert.True(t, eris.Is(c.SetFixedColor(ctx, "red"), ErrInvalidColor))
	assert.Empty(t, pending(sub))
}

func TestWLEDSettings(t *testing.T) {
	c, s, sub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.SetWLEDLEDCount(ctx, 60))
	require.NoError(t, c.SetWLEDIP(ctx, "10.0.0.7"))
	require.NoError(t, c.SetWLEDPort(ctx, 4048))
	assert.Equal(t, 60, settings.MustGet(ctx, s, settings.WLEDLEDCount))
	assert.Equal(t, "10.0.0.7", settings.MustGet(ctx, s, settings.WLEDIP))
	assert.Equal(t, 4048, settings.MustGet(ctx, s, settings.WLEDPort))
	assert.Equal(t, []string{"wled", "wled", "wled"}, pending(sub))

	assert.True(t, eris.Is(c.SetWLEDLEDCount(ctx, 1), ErrInvalidValue))
	assert.True(t, eris.Is(c.SetWLEDLEDCount(ctx, 491), ErrInvalidValue))
	assert.Error(t, c.SetWLEDIP(ctx, "10.0.0"))
	assert.Error(t, c.SetWLEDIP(ctx, "::1"))
	assert.True(t, eris.Is(c.SetWLEDPort(ctx, 80), ErrInvalidValue))
	assert.Empty(t, pending(sub))
}
