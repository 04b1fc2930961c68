//go:build !unix

package hw

import (
	"context"
	"net"

	"github.com/rotisserie/eris"
)

func DialBroadcastUDP(ctx context.Context, addr string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "dial %s", addr)
	}
	return conn, nil
}
