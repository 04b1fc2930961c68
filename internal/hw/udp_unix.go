//go:build unix

package hw

import (
	"context"
	"net"
	"syscall"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// DialBroadcastUDP connects a UDP socket to addr with SO_BROADCAST set, so addr may be a
// broadcast address like 192.168.1.255.
func DialBroadcastUDP(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "dial %s", addr)
	}
	return conn, nil
}
