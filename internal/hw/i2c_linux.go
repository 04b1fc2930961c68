//go:build linux

package hw

import (
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

const i2cSlave = 0x0703

// OpenI2C opens an i2c-dev bus and binds it to the device at addr.
func OpenI2C(path string, addr int) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, addr); err != nil {
		f.Close()
		return nil, eris.Wrapf(err, "select i2c device %#x on %s", addr, path)
	}
	return f, nil
}
