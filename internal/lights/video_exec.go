//go:build !vlc

package lights

import (
	"log/slog"
	"os/exec"

	"github.com/rotisserie/eris"
)

// execBackend loops the video with a cvlc subprocess.
type execBackend struct {
	logger *slog.Logger
	cmd    *exec.Cmd
	done   chan struct{}
}

func newVideoBackend(logger *slog.Logger) videoBackend {
	return &execBackend{logger: logger}
}

func (b *execBackend) play(path string) error {
	cmd := exec.Command("cvlc", "--fullscreen", "--no-video-title-show", "--loop", path)
	if err := cmd.Start(); err != nil {
		return eris.Wrap(err, "failed to start cvlc")
	}
	b.cmd = cmd
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		if err := cmd.Wait(); err != nil {
			b.logger.Debug("cvlc exited", slog.Any("error", err))
		}
	}()
	return nil
}

func (b *execBackend) running() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *execBackend) stop() {
	if b.cmd == nil || b.cmd.Process == nil {
		return
	}
	if b.running() {
		_ = b.cmd.Process.Kill()
	}
	<-b.done
	b.cmd = nil
}
