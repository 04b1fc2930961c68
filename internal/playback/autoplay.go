package playback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cybre/ravebox/internal/settings"
)

// autoplay queues a suggestion based on url, or the current song when url is empty, if
// autoplay is enabled and the queue ran dry. Failures are logged and swallowed.
func (e *Engine) autoplay(ctx context.Context, url string) {
	if !settings.MustGet(ctx, e.Settings, settings.Autoplay) {
		return
	}
	count, err := e.Queue.Count(ctx)
	if err != nil || count > 0 {
		return
	}

	if url == "" {
		current, err := e.Queue.Current(ctx)
		if err != nil || current == nil {
			return
		}
		url = current.ExternalURL
	}

	logger := e.logger.With(slog.String("url", url))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("autoplay panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	p, err := e.Registry.ForURL(ctx, url)
	if err != nil {
		logger.Warn("no provider for autoplay", slog.Any("error", err))
		return
	}
	suggestion, err := p.Suggestion(ctx)
	if err != nil {
		logger.Warn("error during suggestions", slog.Any("error", err))
		return
	}
	if _, err := e.Requester.RequestURL(ctx, suggestion); err != nil {
		logger.Warn("could not queue suggestion", slog.String("suggestion", suggestion), slog.Any("error", err))
		return
	}
	logger.Debug("autoplay queued", slog.String("suggestion", suggestion))
}
