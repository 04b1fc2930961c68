//go:build unix

package lights

import (
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"
)

// cava reads the raw output of a cava subprocess from a named pipe.
type cava struct {
	opts   CavaOptions
	state  *frameState
	logger *slog.Logger

	cmd   *exec.Cmd
	fd    int
	frame *frameAssembler
	buf   []byte
}

func newCava(state *frameState, opts CavaOptions) *cava {
	opts = opts.withDefaults()
	return &cava{
		opts:   opts,
		state:  state,
		logger: opts.Logger.With(slog.String("program", "cava")),
		fd:     -1,
		frame:  newFrameAssembler(FeedBars),
		buf:    make([]byte, FeedBars),
	}
}

func (c *cava) Name() string    { return "Cava" }
func (c *cava) Kind() Kind      { return KindCava }
func (c *cava) Bars() []float64 { return c.frame.current }

func (c *cava) Start() error {
	c.frame.reset()

	// old pipe contents are stale
	if err := os.Remove(c.opts.FIFOPath); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "failed to remove old cava fifo")
	}
	if err := unix.Mkfifo(c.opts.FIFOPath, 0o664); err != nil && err != unix.EEXIST {
		return eris.Wrap(err, "failed to create cava fifo")
	}
	if err := writeCavaConfig(c.opts.ConfigPath, c.state.ups, c.opts.FIFOPath); err != nil {
		return err
	}

	cmd := exec.Command(c.opts.Binary, "-p", c.opts.ConfigPath)
	if err := cmd.Start(); err != nil {
		return eris.Wrap(err, "failed to start cava")
	}
	c.cmd = cmd

	fd, err := unix.Open(c.opts.FIFOPath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		c.terminate()
		return eris.Wrap(err, "failed to open cava fifo")
	}
	c.fd = fd
	return nil
}

// Compute reads everything cava wrote since the last frame. Incomplete frames are kept
// for the next call.
func (c *cava) Compute() Outcome {
	for {
		n, err := unix.Read(c.fd, c.buf[:c.frame.missing()])
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return ok()
		case err != nil:
			return failed(eris.Wrap(err, "failed to read cava fifo"))
		case n == 0:
			// no writer yet
			return ok()
		}
		c.frame.write(c.buf[:n])
	}
}

func (c *cava) Stop() {
	if c.fd >= 0 {
		if err := unix.Close(c.fd); err != nil {
			c.logger.Info("fifo already closed", slog.Any("error", err))
		}
		c.fd = -1
	}
	c.terminate()
	if err := os.Remove(c.opts.FIFOPath); err != nil && !os.IsNotExist(err) {
		c.logger.Info("failed to remove cava fifo", slog.Any("error", err))
	}
}

// SetFramerate rewrites the config and tells a running cava to reload it.
func (c *cava) SetFramerate(ups float64) {
	if err := writeCavaConfig(c.opts.ConfigPath, ups, c.opts.FIFOPath); err != nil {
		c.logger.Error("failed to update cava framerate", slog.Any("error", err))
		return
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Signal(syscall.SIGUSR1); err != nil {
			c.logger.Warn("failed to signal cava", slog.Any("error", err))
		}
	}
}

func (c *cava) terminate() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Signal(syscall.SIGTERM)
	_ = c.cmd.Wait()
	c.cmd = nil
}
