package lights

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

var errVideoEnded = eris.New("video player exited")

// videoBackend plays one file in a loop on the screen.
type videoBackend interface {
	play(path string) error
	running() bool
	stop()
}

// video loops a file full screen. It is named after the file, e.g. LogoLoop.mp4 becomes
// LogoLoop.
type video struct {
	name    string
	path    string
	logger  *slog.Logger
	backend videoBackend
}

func newVideo(path string, logger *slog.Logger) *video {
	return &video{
		name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		path:   path,
		logger: logger.With(slog.String("program", "video")),
	}
}

func (v *video) Name() string { return v.name }
func (v *video) Kind() Kind   { return KindVideo }

func (v *video) Start() error {
	if _, err := os.Stat(v.path); err != nil {
		return eris.Wrapf(err, "video %s is not available", v.path)
	}
	v.backend = newVideoBackend(v.logger)
	return v.backend.play(v.path)
}

func (v *video) Compute() Outcome {
	if v.backend == nil || !v.backend.running() {
		return stopped(errVideoEnded)
	}
	return ok()
}

func (v *video) Stop() {
	if v.backend != nil {
		v.backend.stop()
		v.backend = nil
	}
}
