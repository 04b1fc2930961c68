package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cybre/ravebox/internal/store"
)

// DefaultTTL is how long a read stays cached before the database is consulted again.
const DefaultTTL = 10 * time.Second

// Key names a persisted setting together with the value returned while it is unset.
type Key[T any] struct {
	Name    string
	Default T
}

// NewKey declares a setting.
func NewKey[T any](name string, def T) Key[T] {
	return Key[T]{Name: name, Default: def}
}

// Options configures a Store.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
}

// Store reads and writes settings through a short-lived cache. Values are stored as JSON.
// Writers invalidate the key they wrote; other processes call Flush after they were told a
// setting changed.
type Store struct {
	db     *gorm.DB
	cache  *ttlcache.Cache[string, string]
	logger *slog.Logger
}

// New creates a settings store on top of db.
func New(db *gorm.DB, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](opts.TTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	return &Store{db: db, cache: cache, logger: opts.Logger}
}

// Get returns the value of key, or its default when the setting was never written or can no
// longer be decoded into T.
func Get[T any](ctx context.Context, s *Store, key Key[T]) (T, error) {
	raw, found, err := s.load(ctx, key.Name)
	if err != nil {
		return key.Default, err
	}
	if !found {
		return key.Default, nil
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		s.logger.Warn("discarding undecodable setting",
			slog.String("key", key.Name),
			slog.Any("error", err))
		return key.Default, nil
	}
	return value, nil
}

// MustGet is Get for callers that prefer the default over handling a read failure.
func MustGet[T any](ctx context.Context, s *Store, key Key[T]) T {
	value, err := Get(ctx, s, key)
	if err != nil {
		s.logger.Warn("reading setting failed, using default",
			slog.String("key", key.Name),
			slog.Any("error", err))
	}
	return value
}

// Put persists value for key.
func Put[T any](ctx context.Context, s *Store, key Key[T], value T) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return eris.Wrapf(err, "encode setting %s", key.Name)
	}

	row := store.Setting{Key: key.Name, Value: string(encoded)}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return eris.Wrapf(err, "store setting %s", key.Name)
	}

	s.cache.Delete(key.Name)
	return nil
}

// Flush drops every cached value.
func (s *Store) Flush() {
	s.cache.DeleteAll()
}

func (s *Store) load(ctx context.Context, name string) (string, bool, error) {
	if item := s.cache.Get(name); item != nil {
		return item.Value(), true, nil
	}

	var row store.Setting
	err := s.db.WithContext(ctx).Where(&store.Setting{Key: name}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "load setting %s", name)
	}

	s.cache.Set(name, row.Value, ttlcache.DefaultTTL)
	return row.Value, true, nil
}
