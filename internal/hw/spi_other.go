//go:build !linux

package hw

import "os"

func OpenSPI(string, uint32) (*os.File, error) {
	return nil, ErrUnsupported
}
