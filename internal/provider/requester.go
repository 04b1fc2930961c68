package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
)

// Request describes one song request.
type Request struct {
	// Query is a url or search text.
	Query string
	// ArchiveKey requests a previously archived song instead of searching.
	ArchiveKey *int64
	// Preferred platform is tried first.
	Preferred Platform
	// Address identifies the requesting client in the request log.
	Address string
	// Manual is false for requests made by autoplay and radio.
	Manual bool
	// Archive counts the request towards the song's popularity.
	Archive bool
}

// Result is an accepted request.
type Result struct {
	// Key is the queue entry of the placeholder.
	Key      int64
	Platform Platform
	// Fallback is set when a lower priority platform served the request.
	Fallback bool
}

// Requester turns requests into queue entries. A placeholder is enqueued right away; making
// the song available and confirming the placeholder happen in the background.
type Requester struct {
	registry *Registry
	archive  *Archive
	queue    *queue.Store
	settings *settings.Store
	bus      bus.Bus
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewRequester(r *Registry, a *Archive, q *queue.Store, s *settings.Store, b bus.Bus, logger *slog.Logger) *Requester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{registry: r, archive: a, queue: q, settings: s, bus: b, logger: logger}
}

// Request tries the candidate providers in order and returns the first that accepted.
func (r *Requester) Request(ctx context.Context, req Request) (Result, error) {
	providers, err := r.providers(ctx, req)
	if err != nil {
		return Result{}, err
	}

	newMusicOnly := settings.MustGet(ctx, r.settings, settings.NewMusicOnly)
	for i, p := range providers {
		entry, err := r.request(ctx, p, req)
		if err == nil {
			return Result{Key: entry.ID, Platform: p.Platform(), Fallback: i > 0}, nil
		}
		if eris.Is(err, ErrQueueFull) || newMusicOnly || i == len(providers)-1 {
			return Result{}, err
		}
		r.logger.Debug("provider declined, falling back",
			slog.String("platform", string(p.Platform())),
			slog.Any("error", err))
	}
	return Result{}, eris.Wrapf(ErrNoProvider, "query %q", req.Query)
}

// RequestURL requests the song behind an external url without archiving it, the way
// autoplay does.
func (r *Requester) RequestURL(ctx context.Context, url string) (Result, error) {
	p, err := r.registry.ForURL(ctx, url)
	if err != nil {
		return Result{}, err
	}
	entry, err := r.request(ctx, p, Request{Query: url})
	if err != nil {
		return Result{}, err
	}
	return Result{Key: entry.ID, Platform: p.Platform()}, nil
}

// RequestRadio enqueues songs related to the song at url and returns how many were accepted.
func (r *Requester) RequestRadio(ctx context.Context, url string) (int, error) {
	p, err := r.registry.ForURL(ctx, url)
	if err != nil {
		return 0, err
	}
	urls, err := p.Radio(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, u := range urls {
		if _, err := r.RequestURL(ctx, u); err != nil {
			if eris.Is(err, ErrQueueFull) {
				break
			}
			r.logger.Warn("radio song rejected", slog.String("url", u), slog.Any("error", err))
			continue
		}
		queued++
	}
	return queued, nil
}

// Wait blocks until every background resolution finished.
func (r *Requester) Wait() {
	r.wg.Wait()
}

func (r *Requester) providers(ctx context.Context, req Request) ([]Provider, error) {
	if req.ArchiveKey != nil {
		p, err := r.archived(ctx, *req.ArchiveKey)
		if err == nil {
			return []Provider{p}, nil
		}
		// the platform of the archived song may be gone, search instead
		r.logger.Debug("archived song not requestable, searching", slog.Any("error", err))
	}
	return r.registry.Candidates(ctx, req.Query, req.Preferred)
}

func (r *Requester) archived(ctx context.Context, id int64) (Provider, error) {
	song, err := r.archive.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.registry.ForURL(ctx, song.URL)
}

func (r *Requester) request(ctx context.Context, p Provider, req Request) (queue.Entry, error) {
	if limit := settings.MustGet(ctx, r.settings, settings.MaxQueueLength); limit > 0 {
		count, err := r.queue.Count(ctx)
		if err != nil {
			return queue.Entry{}, err
		}
		if count >= int64(limit) {
			return queue.Entry{}, ErrQueueFull
		}
	}

	cached := p.CheckCached(ctx)
	if !cached {
		keywords := settings.MustGet(ctx, r.settings, settings.AdditionalKeywords)
		if err := p.CheckAvailable(ctx, keywords); err != nil {
			return queue.Entry{}, err
		}
	}

	if settings.MustGet(ctx, r.settings, settings.NewMusicOnly) {
		song, err := r.archive.Lookup(ctx, p.ExternalURL())
		if err != nil {
			return queue.Entry{}, err
		}
		if song != nil && song.Counter > 0 {
			return queue.Entry{}, eris.Wrapf(ErrAlreadyPlayed, "%s", p.ExternalURL())
		}
	}

	title := p.Query()
	if title == "" {
		title = p.ExternalURL()
	}
	votes := 0
	if req.Manual {
		votes = 1
	}
	placeholder, err := r.queue.Enqueue(ctx, queue.Metadata{
		Title:       title,
		Duration:    -1,
		ExternalURL: p.ExternalURL(),
	}, req.Manual, votes, settings.MustGet(ctx, r.settings, settings.EnqueueFirst))
	if err != nil {
		return queue.Entry{}, err
	}
	r.bus.Publish(bus.StateChanged, "queue")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.resolve(context.WithoutCancel(ctx), p, placeholder, req, cached)
	}()

	return placeholder, nil
}

func (r *Requester) resolve(ctx context.Context, p Provider, placeholder queue.Entry, req Request, cached bool) {
	logger := r.logger.With(slog.String("platform", string(p.Platform())), slog.Int64("key", placeholder.ID))

	fail := func(err error) {
		logger.Warn("request failed", slog.Any("error", err))
		if _, err := r.queue.Remove(ctx, placeholder.ID); err != nil && !eris.Is(err, queue.ErrNotFound) {
			logger.Error("could not remove placeholder", slog.Any("error", err))
		}
		r.bus.Publish(bus.StateChanged, "queue")
	}

	if !cached {
		if err := p.MakeAvailable(ctx); err != nil {
			fail(err)
			return
		}
	}

	meta, err := p.Metadata(ctx)
	if err != nil {
		fail(err)
		return
	}

	address := req.Address
	if !settings.MustGet(ctx, r.settings, settings.LoggingEnabled) {
		address = ""
	}
	if _, err := r.archive.Persist(ctx, meta, req.Archive, address); err != nil {
		logger.Warn("could not archive song", slog.Any("error", err))
	}

	if _, err := r.queue.Confirm(ctx, placeholder.ID, meta.Queue()); err != nil {
		if eris.Is(err, queue.ErrNotFound) {
			logger.Debug("placeholder removed before it was confirmed")
			return
		}
		logger.Error("could not confirm placeholder", slog.Any("error", err))
		return
	}

	r.bus.Publish(bus.StateChanged, "queue")
	r.bus.Event(bus.QueueChanged).Set()
}
