package provider

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/player"
)

// Library indexes the playable files below a root directory. Songs are identified by their
// slash separated path relative to the root.
type Library struct {
	root   string
	logger *slog.Logger
	probe  func(string) (time.Duration, error)

	mu    sync.RWMutex
	songs map[string]struct{}
	dirs  map[string][]string
}

func NewLibrary(root string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		root:   filepath.Clean(root),
		logger: logger,
		probe:  player.Duration,
		songs:  make(map[string]struct{}),
		dirs:   make(map[string][]string),
	}
}

func (l *Library) Root() string {
	return l.root
}

// Scan rebuilds the index from disk.
func (l *Library) Scan() error {
	songs := make(map[string]struct{})
	dirs := make(map[string][]string)

	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !player.SupportedExtension(filepath.Ext(p)) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		songs[id] = struct{}{}
		dirs[path.Dir(id)] = append(dirs[path.Dir(id)], id)
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "scan library %s", l.root)
	}

	for dir := range dirs {
		slices.Sort(dirs[dir])
	}

	l.mu.Lock()
	l.songs = songs
	l.dirs = dirs
	l.mu.Unlock()

	l.logger.Info("library scanned", slog.String("root", l.root), slog.Int("songs", len(songs)))
	return nil
}

// Watch keeps the index current until ctx ends. Every directory below the root is watched;
// any create, remove or rename triggers a rescan.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "create library watcher")
	}
	defer watcher.Close()

	if err := l.watchTree(watcher, l.root); err != nil {
		return err
	}
	l.logger.Info("watching library", slog.String("root", l.root))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug("library changed", slog.String("op", event.Op.String()), slog.String("path", event.Name))
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.watchTree(watcher, event.Name); err != nil {
						l.logger.Warn("could not watch new directory", slog.Any("error", err))
					}
				}
			}
			if err := l.Scan(); err != nil {
				l.logger.Warn("library rescan failed", slog.Any("error", err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("library watcher error", slog.Any("error", err))
		}
	}
}

func (l *Library) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(p); err != nil {
			return eris.Wrapf(err, "watch %s", p)
		}
		return nil
	})
}

// Contains reports whether id is an indexed song.
func (l *Library) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.songs[id]
	return ok
}

// Siblings returns the other songs in the directory of id.
func (l *Library) Siblings(id string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	siblings := make([]string, 0, len(l.dirs[path.Dir(id)]))
	for _, other := range l.dirs[path.Dir(id)] {
		if other != id {
			siblings = append(siblings, other)
		}
	}
	return siblings
}

// Songs returns every indexed id in sorted order.
func (l *Library) Songs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.songs))
	for id := range l.songs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Path resolves id to a file below the root.
func (l *Library) Path(id string) string {
	return filepath.Join(l.root, filepath.FromSlash(id))
}
