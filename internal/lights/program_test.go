package lights

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProgram struct {
	disabled
	starts, stops int
	startErr      error
}

func (p *countingProgram) Start() error {
	if p.startErr != nil {
		return p.startErr
	}
	p.starts++
	return nil
}

func (p *countingProgram) Stop() { p.stops++ }

func TestSharedProgramStartsOnceAndStopsWithLastConsumer(t *testing.T) {
	p := &countingProgram{}
	shared := share(p)

	require.NoError(t, shared.Use())
	require.NoError(t, shared.Use())
	assert.Equal(t, 1, p.starts)
	assert.Equal(t, 2, shared.Consumers())

	shared.Release()
	assert.Equal(t, 0, p.stops)
	shared.Release()
	assert.Equal(t, 1, p.stops)

	// releasing an unused program is harmless
	shared.Release()
	assert.Equal(t, 1, p.stops)
	assert.Equal(t, 0, shared.Consumers())
}

func TestFailedStartRegistersNoConsumer(t *testing.T) {
	boom := eris.New("boom")
	shared := share(&countingProgram{startErr: boom})

	err := shared.Use()
	assert.True(t, eris.Is(err, boom))
	assert.Equal(t, 0, shared.Consumers())
}

type computeCounter struct {
	disabled
	computed int
}

func (p *computeCounter) Compute() Outcome {
	p.computed++
	return ok()
}

func TestUnusedProgramIsNotComputed(t *testing.T) {
	p := &computeCounter{}
	shared := share(p)

	shared.Compute()
	assert.Equal(t, 0, p.computed)

	require.NoError(t, shared.Use())
	shared.Compute()
	assert.Equal(t, 1, p.computed)
}

func TestDisabledIsBothKinds(t *testing.T) {
	shared := share(disabled{})
	led, isLED := shared.LED()
	require.True(t, isLED)
	assert.Nil(t, led.RingColors())
	assert.Equal(t, "Disabled", shared.Name())
	assert.Equal(t, "disabled", KindDisabled.String())
}
