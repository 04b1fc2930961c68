package hw

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// StatusLED is a sysfs LED such as the board's power LED (/sys/class/leds/led1).
type StatusLED struct {
	dir string
}

// OpenStatusLED takes the LED away from its kernel trigger so Set controls it.
func OpenStatusLED(dir string) (*StatusLED, error) {
	if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
		return nil, eris.Wrapf(err, "status led %s", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "trigger"), []byte("none"), 0); err != nil {
		return nil, eris.Wrapf(err, "detach trigger of %s", dir)
	}
	return &StatusLED{dir: dir}, nil
}

func (l *StatusLED) Set(on bool) error {
	value := "0"
	if on {
		value = "1"
	}
	if err := os.WriteFile(filepath.Join(l.dir, "brightness"), []byte(value), 0); err != nil {
		return eris.Wrapf(err, "set status led %s", l.dir)
	}
	return nil
}
