package lights

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

type CavaOptions struct {
	// Binary defaults to "cava" on PATH.
	Binary string
	// FIFOPath and ConfigPath default to files in the temp directory.
	FIFOPath   string
	ConfigPath string
	Logger     *slog.Logger
}

func (o CavaOptions) withDefaults() CavaOptions {
	if o.Binary == "" {
		o.Binary = "cava"
	}
	if o.FIFOPath == "" {
		o.FIFOPath = filepath.Join(os.TempDir(), "ravebox_cava_fifo")
	}
	if o.ConfigPath == "" {
		o.ConfigPath = filepath.Join(os.TempDir(), "ravebox_cava.config")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// cavaConfig renders the configuration cava is started with. Bars and bit format must
// match what the reader expects.
func cavaConfig(ups float64, fifo string) string {
	return fmt.Sprintf(`[general]
framerate = %d
bars = %d

[input]
method = pulse
source = auto

[output]
method = raw
channels = mono
raw_target = %s
data_format = binary
bit_format = 8bit

[smoothing]
noise_reduction = 77
`, max(int(ups), 1), FeedBars, fifo)
}

func writeCavaConfig(path string, ups float64, fifo string) error {
	if err := os.WriteFile(path, []byte(cavaConfig(ups, fifo)), 0o644); err != nil {
		return eris.Wrap(err, "failed to write cava config")
	}
	return nil
}
