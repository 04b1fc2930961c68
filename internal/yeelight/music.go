package yeelight

import (
	"context"
	"net"
)

// MusicModeBulb is the connection a bulb opens back to us in music mode. The bulb sends no
// answers on it, so commands return as soon as they are written.
type MusicModeBulb struct {
	bulbBase
}

func newMusicModeBulb(info *bulbInfo, conn net.Conn) *MusicModeBulb {
	return &MusicModeBulb{
		bulbBase: bulbBase{
			bulbInfo: info,
			conn:     conn,
			commandCallback: func(context.Context, command) ([]string, error) {
				return nil, nil
			},
		},
	}
}

// Close drops the music connection. The bulb leaves music mode on its own.
func (mb *MusicModeBulb) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.conn.Close()
}
