package hw

import (
	"io"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

const (
	// DefaultPCA9685Address is the board address with no address jumpers set.
	DefaultPCA9685Address = 0x40
	// PCA9685Max is the largest duty cycle value, 12 bit.
	PCA9685Max = 4095

	pcaMode1       = 0x00
	pcaPrescale    = 0xFE
	pcaLED0OnL     = 0x06
	pcaSleep       = 0x10
	pcaAutoInc     = 0x20
	pcaRestart     = 0x80
	pcaFullBit     = 0x10
	pcaOscillator  = 25_000_000
	pcaDefaultFreq = 1000
)

// PCA9685 is a 16 channel 12 bit PWM controller. Every Write on bus is one i2c
// transaction starting with the register address.
type PCA9685 struct {
	bus io.Writer
}

func NewPCA9685(bus io.Writer) *PCA9685 {
	return &PCA9685{bus: bus}
}

// Init sets the PWM frequency and enables register auto increment.
func (p *PCA9685) Init(freqHz float64) error {
	if freqHz <= 0 {
		freqHz = pcaDefaultFreq
	}
	prescale := byte(math.Round(pcaOscillator/(4096*freqHz)) - 1)

	steps := [][]byte{
		{pcaMode1, pcaSleep},
		{pcaPrescale, prescale},
		{pcaMode1, pcaAutoInc},
	}
	for _, s := range steps {
		if _, err := p.bus.Write(s); err != nil {
			return eris.Wrap(err, "configure pca9685")
		}
	}

	// the oscillator needs 500us after leaving sleep
	time.Sleep(time.Millisecond)
	if _, err := p.bus.Write([]byte{pcaMode1, pcaAutoInc | pcaRestart}); err != nil {
		return eris.Wrap(err, "restart pca9685")
	}
	return nil
}

// SetChannel sets the duty cycle of channel to value/4095. 0 and 4095 use the full-off and
// full-on bits so the output does not glitch.
func (p *PCA9685) SetChannel(channel int, value uint16) error {
	if channel < 0 || channel > 15 {
		return eris.Errorf("pca9685 channel %d out of range", channel)
	}

	var on, off uint16
	switch {
	case value >= PCA9685Max:
		on = pcaFullBit << 8
	case value == 0:
		off = pcaFullBit << 8
	default:
		off = value
	}

	reg := byte(pcaLED0OnL + 4*channel)
	msg := []byte{reg, byte(on), byte(on >> 8), byte(off), byte(off >> 8)}
	if _, err := p.bus.Write(msg); err != nil {
		return eris.Wrapf(err, "set pca9685 channel %d", channel)
	}
	return nil
}
