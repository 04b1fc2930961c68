package provider

import (
	"context"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/player"
)

const radioLength = 10

// LocalFactory serves songs from the library. Local songs are addressed by their external
// url only, search text is accepted but never found.
func LocalFactory(lib *Library) Factory {
	return func(query string) (Provider, error) {
		platform := DetectPlatform(query)
		if platform != Local && platform != Unknown {
			return nil, eris.Wrapf(ErrWrongURL, "%s is not a local song", query)
		}
		p := &localProvider{lib: lib, query: query}
		if platform == Local {
			id := strings.TrimPrefix(query, localPrefix)
			if !filepath.IsLocal(filepath.FromSlash(id)) {
				return nil, eris.Wrapf(ErrUnavailable, "invalid local song %q", id)
			}
			p.id = id
		}
		return p, nil
	}
}

type localProvider struct {
	lib   *Library
	query string
	id    string
}

func (p *localProvider) Platform() Platform { return Local }

func (p *localProvider) Query() string { return p.query }

func (p *localProvider) ExternalURL() string {
	if p.id == "" {
		return ""
	}
	return localPrefix + p.id
}

func (p *localProvider) CheckCached(context.Context) bool {
	if p.id == "" {
		return false
	}
	_, err := os.Stat(p.lib.Path(p.id))
	return err == nil
}

func (p *localProvider) CheckAvailable(ctx context.Context, _ string) error {
	if p.id == "" {
		return eris.Wrap(ErrUnavailable, "can't search for local songs")
	}
	if !p.CheckCached(ctx) {
		return eris.Wrapf(ErrUnavailable, "local file missing: %s", p.id)
	}
	return nil
}

// MakeAvailable has nothing to fetch.
func (p *localProvider) MakeAvailable(ctx context.Context) error {
	return p.CheckAvailable(ctx, "")
}

func (p *localProvider) Metadata(ctx context.Context) (Metadata, error) {
	if err := p.CheckAvailable(ctx, ""); err != nil {
		return Metadata{}, err
	}
	file := p.lib.Path(p.id)
	duration, err := p.lib.probe(file)
	if err != nil {
		return Metadata{}, eris.Wrapf(err, "read duration of %s", p.id)
	}

	artist, title := splitName(path.Base(p.id))
	return Metadata{
		Artist:      artist,
		Title:       title,
		Duration:    duration.Seconds(),
		InternalURL: player.FileURI(file),
		ExternalURL: p.ExternalURL(),
		Cached:      true,
	}, nil
}

// Suggestion picks a random song from the same directory.
func (p *localProvider) Suggestion(context.Context) (string, error) {
	siblings := p.lib.Siblings(p.id)
	if len(siblings) == 0 {
		return "", eris.Wrapf(ErrUnavailable, "no suggestion for %s", p.id)
	}
	return localPrefix + siblings[rand.IntN(len(siblings))], nil
}

// Radio returns up to radioLength songs from the same directory in random order.
func (p *localProvider) Radio(context.Context) ([]string, error) {
	siblings := p.lib.Siblings(p.id)
	rand.Shuffle(len(siblings), func(i, j int) {
		siblings[i], siblings[j] = siblings[j], siblings[i]
	})
	if len(siblings) > radioLength {
		siblings = siblings[:radioLength]
	}
	urls := make([]string, len(siblings))
	for i, id := range siblings {
		urls[i] = localPrefix + id
	}
	return urls, nil
}

// splitName reads "Artist - Title.ext" file names. Without a separator the whole name is
// the title.
func splitName(name string) (string, string) {
	name = strings.TrimSuffix(name, path.Ext(name))
	if artist, title, ok := strings.Cut(name, " - "); ok {
		return strings.TrimSpace(artist), strings.TrimSpace(title)
	}
	return "", name
}
