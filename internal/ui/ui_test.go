package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m setupModel, keys ...string) setupModel {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(setupModel)
	}
	return m
}

func TestSetupWalksThroughSteps(t *testing.T) {
	m := newSetupModel([]Step{
		{Name: "Bulb", Title: "Select a Yeelight bulb", Options: []Option{{"a"}, {"b"}}},
		{Name: "Nothing", Title: "skipped"},
		{Name: "Device", Title: "Select an audio input device", Options: []Option{{"x"}, {"y"}, {"z"}}, Initial: 2},
	})
	assert.Equal(t, []int{0, 2}, m.active)
	assert.Contains(t, m.View(), "Select a Yeelight bulb")

	m = press(m, "j", "enter")
	assert.Equal(t, 1, m.choices[0])
	assert.Equal(t, 2, m.cursor)
	assert.Contains(t, m.View(), "Bulb:")

	// wraps around
	m = press(m, "j", "enter")
	assert.Equal(t, 0, m.choices[2])
	assert.Contains(t, m.View(), "Ready to start")

	m = press(m, "enter")
	assert.True(t, m.done)
	assert.NoError(t, m.err)
	assert.Equal(t, []int{1, 0, 0}, m.choices)
}

func TestSetupBackAndAbort(t *testing.T) {
	m := newSetupModel([]Step{
		{Name: "Bulb", Options: []Option{{"a"}, {"b"}}},
		{Name: "Device", Options: []Option{{"x"}}},
	})

	m = press(m, "enter", "shift+tab")
	assert.Equal(t, 0, m.pos)

	m = press(m, "esc")
	assert.ErrorIs(t, m.err, ErrSelectionAborted)
}

func TestRunSetupWithoutChoices(t *testing.T) {
	choices, err := RunSetup([]Step{{Name: "Bulb", Initial: 3}})
	assert.NoError(t, err)
	assert.Equal(t, []int{0}, choices)
}

func TestResampleBars(t *testing.T) {
	assert.Equal(t, []float64{0.5, 1}, ResampleBars([]float64{0, 1, 1, 1}, 2))
	assert.Equal(t, []float64{0.2, 0.2, 0.4, 0.4}, ResampleBars([]float64{0.2, 0.4}, 4))
	assert.Equal(t, []float64{0, 0}, ResampleBars(nil, 2))
}

func TestSpectrumViewFollowsScale(t *testing.T) {
	frame := Frame{Variant: VariantSpectrum, Bars: []float64{1, 0.5, 0}, Scale: 1}
	full := strings.Split(renderSpectrum(frame, 40, 23), "\n")
	frame.Scale = 0.5
	half := strings.Split(renderSpectrum(frame, 40, 23), "\n")

	assert.Len(t, full, 20+2)
	assert.Len(t, half, 10+2)
}

func TestVisualizerModelQuits(t *testing.T) {
	m := &visualizerModel{}
	assert.Contains(t, m.View(), "Waiting")

	m.Update(frameMsg{frame: Frame{Variant: VariantPulse, Mode: "energy-pulse"}, receivedAt: time.Now()})
	assert.Contains(t, m.View(), "energy-pulse")

	_, cmd := m.Update(key("q"))
	assert.NotNil(t, cmd)
}

func TestVariantString(t *testing.T) {
	assert.Equal(t, "Spectrum", VariantSpectrum.String())
	assert.Equal(t, "Pulse", VariantPulse.String())
}
