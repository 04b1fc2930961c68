package hw

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWS281xUsesGRBOrder(t *testing.T) {
	out := EncodeWS281x([][3]uint8{{0xFF, 0x00, 0x00}})

	require.Len(t, out, 9+ws281xResetBytes)
	zero := []byte{0x92, 0x49, 0x24}
	one := []byte{0xDB, 0x6D, 0xB6}
	assert.Equal(t, zero, out[0:3], "green first")
	assert.Equal(t, one, out[3:6], "then red")
	assert.Equal(t, zero, out[6:9], "then blue")
	assert.Equal(t, make([]byte, ws281xResetBytes), out[9:])
}

func TestEncodeWS281xLength(t *testing.T) {
	assert.Len(t, EncodeWS281x(make([][3]uint8, 16)), 16*9+ws281xResetBytes)
	assert.Len(t, EncodeWS281x(nil), ws281xResetBytes)
}

type transactions struct {
	writes [][]byte
}

func (tr *transactions) Write(p []byte) (int, error) {
	tr.writes = append(tr.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (tr *transactions) Close() error { return nil }

func TestWS281xWritesOneFrame(t *testing.T) {
	bus := &transactions{}
	ring := NewWS281x(bus)
	require.NoError(t, ring.WritePixels(make([][3]uint8, 2)))
	require.Len(t, bus.writes, 1)
	assert.Len(t, bus.writes[0], 18+ws281xResetBytes)
}

func TestPCA9685Init(t *testing.T) {
	bus := &transactions{}
	require.NoError(t, NewPCA9685(bus).Init(1000))

	assert.Equal(t, [][]byte{
		{pcaMode1, pcaSleep},
		{pcaPrescale, 5},
		{pcaMode1, pcaAutoInc},
		{pcaMode1, pcaAutoInc | pcaRestart},
	}, bus.writes)
}

func TestPCA9685SetChannel(t *testing.T) {
	bus := &transactions{}
	pca := NewPCA9685(bus)

	require.NoError(t, pca.SetChannel(0, 2048))
	require.NoError(t, pca.SetChannel(1, 0))
	require.NoError(t, pca.SetChannel(2, PCA9685Max))

	assert.Equal(t, [][]byte{
		{0x06, 0x00, 0x00, 0x00, 0x08},
		{0x0A, 0x00, 0x00, 0x00, 0x10},
		{0x0E, 0x00, 0x10, 0x00, 0x00},
	}, bus.writes)

	assert.Error(t, pca.SetChannel(16, 1))
}

func TestStatusLED(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brightness"), []byte("0"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trigger"), []byte("[default-on] none"), 0o644))

	led, err := OpenStatusLED(dir)
	require.NoError(t, err)

	trigger, _ := os.ReadFile(filepath.Join(dir, "trigger"))
	assert.Equal(t, "none", string(trigger))

	require.NoError(t, led.Set(true))
	value, _ := os.ReadFile(filepath.Join(dir, "brightness"))
	assert.Equal(t, "1", string(value))

	_, err = OpenStatusLED(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
