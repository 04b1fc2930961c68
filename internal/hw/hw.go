// Package hw talks to the LED hardware of a Raspberry Pi style host: WS281x rings on a
// spidev bus, PCA9685 PWM boards on i2c-dev, sysfs LEDs and broadcast UDP sockets.
package hw

import "github.com/rotisserie/eris"

// ErrUnsupported is returned on platforms without the needed kernel interfaces.
var ErrUnsupported = eris.New("hardware interface not supported on this platform")
