//go:build !linux

package hw

import "os"

func OpenI2C(string, int) (*os.File, error) {
	return nil, ErrUnsupported
}
