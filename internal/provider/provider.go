package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/queue"
)

var (
	ErrNoProvider    = eris.New("no backend configured to handle the request")
	ErrUnavailable   = eris.New("song unavailable")
	ErrWrongURL      = eris.New("url belongs to a different platform")
	ErrQueueFull     = eris.New("queue limit reached")
	ErrAlreadyPlayed = eris.New("only new music is allowed")
)

// Platform names a song source.
type Platform string

const (
	Local      Platform = "local"
	YouTube    Platform = "youtube"
	Spotify    Platform = "spotify"
	SoundCloud Platform = "soundcloud"
	Jamendo    Platform = "jamendo"
	Unknown    Platform = "unknown"
)

// Priority is the order in which platforms are tried for a search query. Local songs can
// only be addressed by url, so the local platform comes last.
var Priority = []Platform{Spotify, YouTube, SoundCloud, Jamendo, Local}

const localPrefix = "local_library/"

// DetectPlatform guesses the platform an external url belongs to.
func DetectPlatform(url string) Platform {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, localPrefix):
		return Local
	case strings.Contains(lower, "youtube.com/"), strings.Contains(lower, "youtu.be/"):
		return YouTube
	case strings.HasPrefix(lower, "spotify:"), strings.Contains(lower, "open.spotify.com/"):
		return Spotify
	case strings.Contains(lower, "soundcloud.com/"):
		return SoundCloud
	case strings.Contains(lower, "jamendo.com/"):
		return Jamendo
	default:
		return Unknown
	}
}

// Metadata is a resolved song.
type Metadata struct {
	Artist      string
	Title       string
	Duration    float64
	InternalURL string
	ExternalURL string
	StreamURL   string
	// Cached is set when the song is playable without fetching anything.
	Cached bool
}

func (m Metadata) Queue() queue.Metadata {
	return queue.Metadata{
		Artist:      m.Artist,
		Title:       m.Title,
		Duration:    m.Duration,
		InternalURL: m.InternalURL,
		ExternalURL: m.ExternalURL,
		StreamURL:   m.StreamURL,
	}
}

// Provider resolves a single song on one platform.
type Provider interface {
	Platform() Platform
	// Query is what the song was requested with.
	Query() string
	// ExternalURL identifies the song across platforms. It may be empty until the song was
	// found.
	ExternalURL() string
	CheckCached(ctx context.Context) bool
	// CheckAvailable verifies the song can be fetched. keywords are appended to searches.
	CheckAvailable(ctx context.Context, keywords string) error
	MakeAvailable(ctx context.Context) error
	Metadata(ctx context.Context) (Metadata, error)
	// Suggestion returns the external url of a song that fits after this one.
	Suggestion(ctx context.Context) (string, error)
	// Radio returns external urls of songs related to this one.
	Radio(ctx context.Context) ([]string, error)
}

// Factory builds a provider for query. It returns ErrWrongURL when query is a url of
// another platform.
type Factory func(query string) (Provider, error)
