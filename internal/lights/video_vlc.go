//go:build vlc

package lights

import (
	"log/slog"
	"sync"

	libvlc "github.com/adrg/libvlc-go/v3"
	"github.com/rotisserie/eris"
)

var (
	vlcInitOnce sync.Once
	vlcInitErr  error
)

// vlcBackend loops the video through libVLC's list player, which restarts the file
// without leaving the screen black in between.
type vlcBackend struct {
	logger *slog.Logger
	player *libvlc.ListPlayer
	list   *libvlc.MediaList
}

func newVideoBackend(logger *slog.Logger) videoBackend {
	return &vlcBackend{logger: logger}
}

func (b *vlcBackend) play(path string) error {
	vlcInitOnce.Do(func() {
		vlcInitErr = libvlc.Init("--fullscreen", "--no-video-title-show", "--no-osd", "--quiet")
	})
	if vlcInitErr != nil {
		return eris.Wrap(vlcInitErr, "failed to initialize libvlc")
	}

	player, err := libvlc.NewListPlayer()
	if err != nil {
		return eris.Wrap(err, "failed to create list player")
	}
	list, err := libvlc.NewMediaList()
	if err != nil {
		_ = player.Release()
		return eris.Wrap(err, "failed to create media list")
	}
	b.player, b.list = player, list

	if err := list.AddMediaFromPath(path); err != nil {
		b.stop()
		return eris.Wrapf(err, "failed to add %s", path)
	}
	if err := player.SetMediaList(list); err != nil {
		b.stop()
		return eris.Wrap(err, "failed to set media list")
	}
	if err := player.SetPlaybackMode(libvlc.Loop); err != nil {
		b.stop()
		return eris.Wrap(err, "failed to enable looping")
	}
	if err := player.Play(); err != nil {
		b.stop()
		return eris.Wrap(err, "failed to play video")
	}
	return nil
}

func (b *vlcBackend) running() bool {
	return b.player != nil && b.player.IsPlaying()
}

func (b *vlcBackend) stop() {
	if b.player != nil {
		if err := b.player.Stop(); err != nil {
			b.logger.Warn("failed to stop video", slog.Any("error", err))
		}
		_ = b.player.Release()
		b.player = nil
	}
	if b.list != nil {
		_ = b.list.Release()
		b.list = nil
	}
}
