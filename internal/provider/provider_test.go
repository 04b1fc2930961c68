package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cybre/ravebox/internal/bus"
	"github.com/cybre/ravebox/internal/queue"
	"github.com/cybre/ravebox/internal/settings"
	"github.com/cybre/ravebox/internal/store"
)

type stubProvider struct {
	platform    Platform
	query       string
	url         string
	unavailable bool
	fetchErr    error
	fetched     chan struct{}
}

func (p *stubProvider) Platform() Platform               { return p.platform }
func (p *stubProvider) Query() string                    { return p.query }
func (p *stubProvider) ExternalURL() string              { return p.url }
func (p *stubProvider) CheckCached(context.Context) bool { return false }

func (p *stubProvider) CheckAvailable(context.Context, string) error {
	if p.unavailable {
		return eris.Wrapf(ErrUnavailable, "%s has nothing for %s", p.platform, p.query)
	}
	return nil
}

func (p *stubProvider) MakeAvailable(context.Context) error {
	if p.fetched != nil {
		<-p.fetched
	}
	return p.fetchErr
}

func (p *stubProvider) Metadata(context.Context) (Metadata, error) {
	return Metadata{
		Artist:      "Stub",
		Title:       p.query,
		Duration:    120,
		InternalURL: "stream://" + p.url,
		ExternalURL: p.url,
	}, nil
}

func (p *stubProvider) Suggestion(context.Context) (string, error) { return "", ErrUnavailable }
func (p *stubProvider) Radio(context.Context) ([]string, error)    { return nil, nil }

type fixture struct {
	db        *gorm.DB
	settings  *settings.Store
	queue     *queue.Store
	bus       *bus.Memory
	archive   *Archive
	registry  *Registry
	requester *Requester
	library   *Library
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(context.Background(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })

	f := &fixture{
		db:       db,
		settings: settings.New(db, settings.Options{}),
		queue:    queue.New(db),
		bus:      bus.NewMemory(nil),
		archive:  NewArchive(db),
	}
	f.registry = NewRegistry(f.settings)
	f.requester = NewRequester(f.registry, f.archive, f.queue, f.settings, f.bus, nil)
	f.library = newTestLibrary(t, "Artist - One.mp3", "Artist - Two.mp3", "sub/Three.wav", "cover.jpg")
	f.registry.Register(Local, LocalFactory(f.library))
	return f
}

func newTestLibrary(t *testing.T, files ...string) *Library {
	t.Helper()
	root := t.TempDir()
	for _, name := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	lib := NewLibrary(root, nil)
	lib.probe = func(string) (time.Duration, error) { return 3 * time.Minute, nil }
	require.NoError(t, lib.Scan())
	return lib
}

func TestDetectPlatform(t *testing.T) {
	tests := map[string]Platform{
		"local_library/a/b.mp3":                       Local,
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": YouTube,
		"https://youtu.be/dQw4w9WgXcQ":                YouTube,
		"spotify:track:4uLU6hMCjMI75M1A2tKUQC":        Spotify,
		"https://open.spotify.com/track/4uLU6h":       Spotify,
		"https://soundcloud.com/artist/song":          SoundCloud,
		"https://www.jamendo.com/track/1":             Jamendo,
		"never gonna give you up":                     Unknown,
	}
	for url, want := range tests {
		assert.Equal(t, want, DetectPlatform(url), url)
	}
}

func TestLibraryIndexesPlayableFiles(t *testing.T) {
	lib := newTestLibrary(t, "Artist - One.mp3", "Artist - Two.mp3", "sub/Three.wav", "cover.jpg")

	assert.Equal(t, []string{"Artist - One.mp3", "Artist - Two.mp3", "sub/Three.wav"}, lib.Songs())
	assert.True(t, lib.Contains("sub/Three.wav"))
	assert.False(t, lib.Contains("cover.jpg"))
	assert.Equal(t, []string{"Artist - Two.mp3"}, lib.Siblings("Artist - One.mp3"))
	assert.Empty(t, lib.Siblings("sub/Three.wav"))
}

func TestLocalFactoryRejectsOtherPlatforms(t *testing.T) {
	factory := LocalFactory(newTestLibrary(t))

	_, err := factory("https://youtu.be/dQw4w9WgXcQ")
	assert.True(t, eris.Is(err, ErrWrongURL))

	_, err = factory("local_library/../etc/passwd")
	assert.True(t, eris.Is(err, ErrUnavailable))

	p, err := factory("some search text")
	require.NoError(t, err)
	err = p.CheckAvailable(context.Background(), "")
	assert.True(t, eris.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "can't search for local songs")
}

func TestLocalMetadata(t *testing.T) {
	lib := newTestLibrary(t, "Artist - One.mp3", "sub/Three.wav")
	factory := LocalFactory(lib)
	ctx := context.Background()

	p, err := factory("local_library/Artist - One.mp3")
	require.NoError(t, err)
	assert.True(t, p.CheckCached(ctx))

	meta, err := p.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Artist", meta.Artist)
	assert.Equal(t, "One", meta.Title)
	assert.Equal(t, 180.0, meta.Duration)
	assert.Equal(t, "local_library/Artist - One.mp3", meta.ExternalURL)
	assert.Contains(t, meta.InternalURL, "file://")

	p, err = factory("local_library/sub/Three.wav")
	require.NoError(t, err)
	meta, err = p.Metadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta.Artist)
	assert.Equal(t, "Three", meta.Title)

	p, err = factory("local_library/missing.mp3")
	require.NoError(t, err)
	assert.False(t, p.CheckCached(ctx))
	err = p.CheckAvailable(ctx, "")
	assert.Contains(t, err.Error(), "local file missing")
}

func TestLocalSuggestionAndRadio(t *testing.T) {
	lib := newTestLibrary(t, "a.mp3", "b.mp3", "c.mp3", "other/d.mp3")
	p, err := LocalFactory(lib)("local_library/a.mp3")
	require.NoError(t, err)
	ctx := context.Background()

	suggestion, err := p.Suggestion(ctx)
	require.NoError(t, err)
	assert.Contains(t, []string{"local_library/b.mp3", "local_library/c.mp3"}, suggestion)

	radio, err := p.Radio(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"local_library/b.mp3", "local_library/c.mp3"}, radio)

	p, err = LocalFactory(lib)("local_library/other/d.mp3")
	require.NoError(t, err)
	_, err = p.Suggestion(ctx)
	assert.True(t, eris.Is(err, ErrUnavailable))
}

func TestCandidatesOrderAndFiltering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stub := func(platform Platform) Factory {
		return func(query string) (Provider, error) {
			return &stubProvider{platform: platform, query: query}, nil
		}
	}
	f.registry.Register(YouTube, stub(YouTube))
	f.registry.Register(Spotify, stub(Spotify))

	// spotify is disabled by default
	assert.Equal(t, []Platform{YouTube, Local}, f.registry.Enabled(ctx))

	require.NoError(t, settings.Put(ctx, f.settings, settings.PlatformEnabled("spotify"), true))
	providers, err := f.registry.Candidates(ctx, "query", Local)
	require.NoError(t, err)
	var order []Platform
	for _, p := range providers {
		order = append(order, p.Platform())
	}
	assert.Equal(t, []Platform{Local, Spotify, YouTube}, order)

	_, err = f.registry.ForURL(ctx, "https://soundcloud.com/a/b")
	assert.True(t, eris.Is(err, ErrNoProvider))
}

func TestRequestLocalSong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	changes := f.bus.Subscribe(bus.StateChanged)
	defer changes.Close()

	result, err := f.requester.Request(ctx, Request{
		Query:   "local_library/Artist - Two.mp3",
		Address: "10.0.0.7",
		Manual:  true,
		Archive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Local, result.Platform)
	assert.False(t, result.Fallback)
	f.requester.Wait()

	entry, err := f.queue.Get(ctx, result.Key)
	require.NoError(t, err)
	assert.True(t, entry.Confirmed())
	assert.Equal(t, "Two", entry.Title)
	assert.Equal(t, 1, entry.Votes)
	assert.True(t, entry.ManuallyRequested)
	assert.True(t, f.bus.Event(bus.QueueChanged).IsSet())

	song, err := f.archive.Lookup(ctx, "local_library/Artist - Two.mp3")
	require.NoError(t, err)
	require.NotNil(t, song)
	assert.Equal(t, 1, song.Counter)

	var logs []store.RequestLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "10.0.0.7", logs[0].Address)

	assert.Equal(t, "queue", <-changes.C())
}

func TestRequestWithoutLoggingSkipsRequestLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, f.settings, settings.LoggingEnabled, false))

	_, err := f.requester.Request(ctx, Request{Query: "local_library/Artist - One.mp3", Address: "10.0.0.7", Archive: true})
	require.NoError(t, err)
	f.requester.Wait()

	var count int64
	require.NoError(t, f.db.Model(&store.RequestLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPlaceholderVisibleWhileResolving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fetched := make(chan struct{})
	f.registry.Register(YouTube, func(query string) (Provider, error) {
		return &stubProvider{platform: YouTube, query: query, url: "https://youtu.be/x", fetched: fetched}, nil
	})

	result, err := f.requester.Request(ctx, Request{Query: "some song", Manual: true})
	require.NoError(t, err)

	entry, err := f.queue.Get(ctx, result.Key)
	require.NoError(t, err)
	assert.False(t, entry.Confirmed())
	assert.Equal(t, "some song", entry.Title)
	assert.Equal(t, -1.0, entry.Duration)

	close(fetched)
	f.requester.Wait()
	entry, err = f.queue.Get(ctx, result.Key)
	require.NoError(t, err)
	assert.True(t, entry.Confirmed())
	assert.Equal(t, 1, entry.Index)
}

func TestFailedFetchRemovesPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registry.Register(YouTube, func(query string) (Provider, error) {
		return &stubProvider{platform: YouTube, query: query, url: "https://youtu.be/x", fetchErr: eris.New("download failed")}, nil
	})

	_, err := f.requester.Request(ctx, Request{Query: "some song"})
	require.NoError(t, err)
	f.requester.Wait()

	count, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, f.bus.Event(bus.QueueChanged).IsSet())
}

func TestRequestFallsBackToNextPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, f.settings, settings.PlatformEnabled("spotify"), true))
	f.registry.Register(Spotify, func(query string) (Provider, error) {
		return &stubProvider{platform: Spotify, query: query, unavailable: true}, nil
	})
	f.registry.Register(YouTube, func(query string) (Provider, error) {
		return &stubProvider{platform: YouTube, query: query, url: "https://youtu.be/y"}, nil
	})

	result, err := f.requester.Request(ctx, Request{Query: "some song"})
	require.NoError(t, err)
	assert.Equal(t, YouTube, result.Platform)
	assert.True(t, result.Fallback)
	f.requester.Wait()

	// in new music only mode the first answer is final
	require.NoError(t, settings.Put(ctx, f.settings, settings.NewMusicOnly, true))
	_, err = f.requester.Request(ctx, Request{Query: "other song"})
	assert.True(t, eris.Is(err, ErrUnavailable))
}

func TestQueueLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, f.settings, settings.MaxQueueLength, 1))

	_, err := f.requester.Request(ctx, Request{Query: "local_library/Artist - One.mp3"})
	require.NoError(t, err)
	_, err = f.requester.Request(ctx, Request{Query: "local_library/Artist - Two.mp3"})
	assert.True(t, eris.Is(err, ErrQueueFull))
	f.requester.Wait()
}

func TestNewMusicOnlyRejectsPlayedSongs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, settings.Put(ctx, f.settings, settings.NewMusicOnly, true))

	req := Request{Query: "local_library/Artist - One.mp3", Archive: true}
	_, err := f.requester.Request(ctx, req)
	require.NoError(t, err)
	f.requester.Wait()

	_, err = f.requester.Request(ctx, req)
	assert.True(t, eris.Is(err, ErrAlreadyPlayed))
}

func TestRequestArchivedSong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	song, err := f.archive.Persist(ctx, Metadata{ExternalURL: "local_library/Artist - One.mp3", Title: "One"}, true, "")
	require.NoError(t, err)

	result, err := f.requester.Request(ctx, Request{Query: "ignored", ArchiveKey: &song.ID, Archive: true})
	require.NoError(t, err)
	f.requester.Wait()

	entry, err := f.queue.Get(ctx, result.Key)
	require.NoError(t, err)
	assert.Equal(t, "local_library/Artist - One.mp3", entry.ExternalURL)

	song2, err := f.archive.Lookup(ctx, entry.ExternalURL)
	require.NoError(t, err)
	assert.Equal(t, 2, song2.Counter)
}

func TestRequestRadio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queued, err := f.requester.RequestRadio(ctx, "local_library/Artist - One.mp3")
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	f.requester.Wait()

	entries, err := f.queue.All(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Two", entries[0].Title)
	assert.False(t, entries[0].ManuallyRequested)
}

func TestLogPlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.archive.LogPlay(ctx, "local_library/unknown.mp3", true, 0))
	_, err := f.archive.Persist(ctx, Metadata{ExternalURL: "local_library/a.mp3"}, false, "")
	require.NoError(t, err)
	require.NoError(t, f.archive.LogPlay(ctx, "local_library/a.mp3", true, 3))

	var logs []store.PlayLog
	require.NoError(t, f.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Votes)
}
