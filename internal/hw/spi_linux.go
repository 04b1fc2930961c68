//go:build linux

package hw

import (
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// spidev ioctls, _IOW('k', nr, size)
const (
	spiIOCWrMode        = 0x40016b01
	spiIOCWrBitsPerWord = 0x40016b03
	spiIOCWrMaxSpeedHz  = 0x40046b04
)

// OpenSPI opens a spidev node in mode 0 with 8 bit words at speedHz.
func OpenSPI(path string, speedHz uint32) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}

	fd := int(f.Fd())
	settings := []struct {
		req   uint
		value int
		name  string
	}{
		{spiIOCWrMode, 0, "mode"},
		{spiIOCWrBitsPerWord, 8, "bits per word"},
		{spiIOCWrMaxSpeedHz, int(speedHz), "speed"},
	}
	for _, s := range settings {
		if err := unix.IoctlSetPointerInt(fd, s.req, s.value); err != nil {
			f.Close()
			return nil, eris.Wrapf(err, "set spi %s on %s", s.name, path)
		}
	}

	return f, nil
}
