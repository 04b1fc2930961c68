package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/settings"
)

// Registry maps platforms to provider factories.
type Registry struct {
	settings *settings.Store

	mu        sync.RWMutex
	factories map[Platform]Factory
}

func NewRegistry(s *settings.Store) *Registry {
	return &Registry{settings: s, factories: make(map[Platform]Factory)}
}

func (r *Registry) Register(p Platform, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// Enabled lists the platforms that have a factory and are switched on, by priority.
func (r *Registry) Enabled(ctx context.Context) []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var enabled []Platform
	for _, p := range Priority {
		if _, ok := r.factories[p]; !ok {
			continue
		}
		if settings.MustGet(ctx, r.settings, settings.PlatformEnabled(string(p))) {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// ForURL builds the provider responsible for an external url.
func (r *Registry) ForURL(ctx context.Context, url string) (Provider, error) {
	platform := DetectPlatform(url)
	if platform != Local && !settings.MustGet(ctx, r.settings, settings.PlatformEnabled(string(platform))) {
		return nil, eris.Wrapf(ErrNoProvider, "platform %s for %s", platform, url)
	}

	r.mu.RLock()
	factory, ok := r.factories[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrNoProvider, "platform %s for %s", platform, url)
	}
	return factory(url)
}

// Candidates builds a provider per enabled platform that accepts query, ordered by
// priority with preferred first.
func (r *Registry) Candidates(ctx context.Context, query string, preferred Platform) ([]Provider, error) {
	var providers []Provider
	for _, platform := range r.Enabled(ctx) {
		r.mu.RLock()
		factory := r.factories[platform]
		r.mu.RUnlock()

		p, err := factory(query)
		if eris.Is(err, ErrWrongURL) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if platform == preferred {
			providers = append([]Provider{p}, providers...)
		} else {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return nil, eris.Wrapf(ErrNoProvider, "query %q", query)
	}
	return providers, nil
}
