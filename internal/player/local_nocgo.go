//go:build !((linux && cgo) || windows || darwin)

package player

import (
	"log/slog"

	"github.com/rotisserie/eris"
)

// LocalAvailable reports whether this build can play sound itself.
const LocalAvailable = false

type LocalOptions struct {
	SampleRate int
	Logger     *slog.Logger
}

// NewLocal always fails: the sound card backend needs cgo.
func NewLocal(LocalOptions) (Player, error) {
	return nil, eris.Wrap(ErrUnreachable, "local playback needs a cgo build")
}
