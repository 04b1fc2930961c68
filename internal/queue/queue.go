package queue

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"github.com/cybre/ravebox/internal/store"
)

var (
	ErrNotFound          = eris.New("queue entry not found")
	ErrInconsistentState = eris.New("queue changed since the request was made")
)

const indexColumn = "queue_index"

// Entry is a persisted queue row.
type Entry = store.QueueEntry

// Metadata describes a song as resolved by a provider. An empty InternalURL produces a
// placeholder entry.
type Metadata struct {
	Artist      string
	Title       string
	Duration    float64
	InternalURL string
	ExternalURL string
	StreamURL   string
}

// MetadataOf extracts the metadata of an existing entry.
func MetadataOf(e Entry) Metadata {
	return Metadata{
		Artist:      e.Artist,
		Title:       e.Title,
		Duration:    e.Duration,
		InternalURL: deref(e.InternalURL),
		ExternalURL: e.ExternalURL,
		StreamURL:   deref(e.StreamURL),
	}
}

// Store is the ordered song queue. Every mutation runs in one transaction that leaves the
// indices a dense 1..N permutation.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Enqueue appends an entry at the tail, or at the head when first is set.
func (s *Store) Enqueue(ctx context.Context, meta Metadata, manual bool, votes int, first bool) (Entry, error) {
	entry := Entry{
		ManuallyRequested: manual,
		Votes:             votes,
		InternalURL:       optional(meta.InternalURL),
		ExternalURL:       meta.ExternalURL,
		StreamURL:         optional(meta.StreamURL),
		Artist:            meta.Artist,
		Title:             meta.Title,
		Duration:          meta.Duration,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := countLocked(tx)
		if err != nil {
			return err
		}
		entry.Index = int(count) + 1
		if err := tx.Create(&entry).Error; err != nil {
			return eris.Wrap(err, "insert queue entry")
		}
		if first {
			return moveLocked(tx, &entry, 1)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Confirm fills a placeholder with resolved metadata. The index is left untouched.
func (s *Store) Confirm(ctx context.Context, key int64, meta Metadata) (Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if entry, err = getLocked(tx, key); err != nil {
			return err
		}
		entry.InternalURL = optional(meta.InternalURL)
		entry.ExternalURL = meta.ExternalURL
		entry.StreamURL = optional(meta.StreamURL)
		entry.Artist = meta.Artist
		entry.Title = meta.Title
		entry.Duration = meta.Duration
		return tx.Model(&Entry{}).Where("id = ?", key).Updates(map[string]any{
			"internal_url": entry.InternalURL,
			"external_url": entry.ExternalURL,
			"stream_url":   entry.StreamURL,
			"artist":       entry.Artist,
			"title":        entry.Title,
			"duration":     entry.Duration,
		}).Error
	})
	return entry, err
}

// Dequeue removes and returns the lowest-index confirmed entry. A nil entry means there was
// nothing playable, which callers treat as a benign race.
func (s *Store) Dequeue(ctx context.Context) (*Entry, error) {
	return s.take(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Order(indexColumn + " ASC")
	})
}

// TakeMostVoted removes and returns the confirmed entry with the most votes, the lowest
// index breaking ties.
func (s *Store) TakeMostVoted(ctx context.Context) (*Entry, error) {
	return s.take(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("votes DESC").Order(indexColumn + " ASC")
	})
}

// TakeRandom removes and returns a uniformly chosen confirmed entry.
func (s *Store) TakeRandom(ctx context.Context) (*Entry, error) {
	var taken *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []Entry
		if err := confirmedScope(tx).Order(indexColumn + " ASC").Find(&candidates).Error; err != nil {
			return eris.Wrap(err, "list confirmed entries")
		}
		if len(candidates) == 0 {
			return nil
		}
		entry := candidates[rand.IntN(len(candidates))]
		if err := removeLocked(tx, entry); err != nil {
			return err
		}
		taken = &entry
		return nil
	})
	return taken, err
}

func (s *Store) take(ctx context.Context, order func(*gorm.DB) *gorm.DB) (*Entry, error) {
	var taken *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry Entry
		err := order(confirmedScope(tx)).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "select next entry")
		}
		if err := removeLocked(tx, entry); err != nil {
			return err
		}
		taken = &entry
		return nil
	})
	return taken, err
}

// Prioritize moves an entry to index 1. Entries in front of it shift back by one.
func (s *Store) Prioritize(ctx context.Context, key int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := getLocked(tx, key)
		if err != nil {
			return err
		}
		return moveLocked(tx, &entry, 1)
	})
}

// Deprioritize moves an entry to the last index.
func (s *Store) Deprioritize(ctx context.Context, key int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := getLocked(tx, key)
		if err != nil {
			return err
		}
		count, err := countLocked(tx)
		if err != nil {
			return err
		}
		return moveLocked(tx, &entry, int(count))
	})
}

// Remove deletes an entry and closes the gap it leaves.
func (s *Store) Remove(ctx context.Context, key int64) (Entry, error) {
	var removed Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if removed, err = getLocked(tx, key); err != nil {
			return err
		}
		return removeLocked(tx, removed)
	})
	return removed, err
}

// Reorder moves key between prev and next. The neighbours come from a client snapshot, so
// the move is rejected with ErrInconsistentState unless they still match the stored order.
func (s *Store) Reorder(ctx context.Context, prev *int64, key int64, next *int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := getLocked(tx, key)
		if err != nil {
			return err
		}
		count, err := countLocked(tx)
		if err != nil {
			return err
		}

		neighbour := func(id *int64) (Entry, error) {
			found, err := getLocked(tx, *id)
			if eris.Is(err, ErrNotFound) {
				return Entry{}, eris.Wrapf(ErrInconsistentState, "neighbour %d is gone", *id)
			}
			return found, err
		}

		switch {
		case prev == nil && next == nil:
			if count != 1 {
				return eris.Wrap(ErrInconsistentState, "entry is not the only one in the queue")
			}
			return nil
		case prev == nil:
			after, err := neighbour(next)
			if err != nil {
				return err
			}
			if after.Index != 1 {
				return eris.Wrap(ErrInconsistentState, "next entry is not first")
			}
			return moveLocked(tx, &entry, 1)
		case next == nil:
			before, err := neighbour(prev)
			if err != nil {
				return err
			}
			if before.Index != int(count) {
				return eris.Wrap(ErrInconsistentState, "previous entry is not last")
			}
			return moveLocked(tx, &entry, int(count))
		}

		before, err := neighbour(prev)
		if err != nil {
			return err
		}
		after, err := neighbour(next)
		if err != nil {
			return err
		}
		if before.Index+1 != after.Index {
			return eris.Wrap(ErrInconsistentState, "neighbours are not adjacent")
		}
		if before.Index > entry.Index {
			return moveLocked(tx, &entry, before.Index)
		}
		return moveLocked(tx, &entry, after.Index)
	})
}

// Vote adds amount to an entry's votes. When the result is at or below threshold the entry
// is removed and returned so the caller can rebase autoplay. A missing entry is not an error.
func (s *Store) Vote(ctx context.Context, key int64, amount, threshold int) (*Entry, error) {
	var removed *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Entry{}).Where("id = ?", key).
			Update("votes", gorm.Expr("votes + ?", amount))
		if res.Error != nil {
			return eris.Wrap(res.Error, "update votes")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		entry, err := getLocked(tx, key)
		if err != nil {
			return err
		}
		if entry.Votes > threshold {
			return nil
		}
		if err := removeLocked(tx, entry); err != nil {
			return err
		}
		removed = &entry
		return nil
	})
	return removed, err
}

// Shuffle assigns a uniformly random permutation of indices.
func (s *Store) Shuffle(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entries, err := allLocked(tx)
		if err != nil {
			return err
		}
		rand.Shuffle(len(entries), func(i, j int) {
			entries[i], entries[j] = entries[j], entries[i]
		})
		for i, entry := range entries {
			if entry.Index == i+1 {
				continue
			}
			if err := tx.Model(&Entry{}).Where("id = ?", entry.ID).Update(indexColumn, i+1).Error; err != nil {
				return eris.Wrap(err, "assign shuffled index")
			}
		}
		return nil
	})
}

// RemoveAll clears the queue and returns how many entries were dropped.
func (s *Store) RemoveAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Entry{})
	if res.Error != nil {
		return 0, eris.Wrap(res.Error, "clear queue")
	}
	return res.RowsAffected, nil
}

// DeletePlaceholders drops every unconfirmed entry, e.g. after a restart interrupted their
// resolution.
func (s *Store) DeletePlaceholders(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("internal_url IS NULL").Delete(&Entry{}).Error; err != nil {
			return eris.Wrap(err, "delete placeholders")
		}
		entries, err := allLocked(tx)
		if err != nil {
			return err
		}
		for i, entry := range entries {
			if entry.Index == i+1 {
				continue
			}
			if err := tx.Model(&Entry{}).Where("id = ?", entry.ID).Update(indexColumn, i+1).Error; err != nil {
				return eris.Wrap(err, "compact indices")
			}
		}
		return nil
	})
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, key int64) (Entry, error) {
	return getLocked(s.db.WithContext(ctx), key)
}

// All returns every entry ordered by index.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	return allLocked(s.db.WithContext(ctx))
}

// Confirmed returns the entries that resolved to something playable, ordered by index.
func (s *Store) Confirmed(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := confirmedScope(s.db.WithContext(ctx)).Order(indexColumn + " ASC").Find(&entries).Error; err != nil {
		return nil, eris.Wrap(err, "list confirmed entries")
	}
	return entries, nil
}

// Count returns the number of entries, placeholders included.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return countLocked(s.db.WithContext(ctx))
}

// ConfirmedCount returns the number of playable entries.
func (s *Store) ConfirmedCount(ctx context.Context) (int64, error) {
	var count int64
	if err := confirmedScope(s.db.WithContext(ctx).Model(&Entry{})).Count(&count).Error; err != nil {
		return 0, eris.Wrap(err, "count confirmed entries")
	}
	return count, nil
}

func confirmedScope(tx *gorm.DB) *gorm.DB {
	return tx.Where("internal_url IS NOT NULL")
}

func getLocked(tx *gorm.DB, key int64) (Entry, error) {
	var entry Entry
	err := tx.First(&entry, "id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, eris.Wrapf(ErrNotFound, "entry %d", key)
	}
	if err != nil {
		return Entry{}, eris.Wrapf(err, "load entry %d", key)
	}
	return entry, nil
}

func allLocked(tx *gorm.DB) ([]Entry, error) {
	var entries []Entry
	if err := tx.Order(indexColumn + " ASC").Find(&entries).Error; err != nil {
		return nil, eris.Wrap(err, "list queue")
	}
	return entries, nil
}

func countLocked(tx *gorm.DB) (int64, error) {
	var count int64
	if err := tx.Model(&Entry{}).Count(&count).Error; err != nil {
		return 0, eris.Wrap(err, "count queue")
	}
	return count, nil
}

func removeLocked(tx *gorm.DB, entry Entry) error {
	if err := tx.Delete(&Entry{}, entry.ID).Error; err != nil {
		return eris.Wrapf(err, "delete entry %d", entry.ID)
	}
	err := tx.Model(&Entry{}).
		Where(indexColumn+" > ?", entry.Index).
		Update(indexColumn, gorm.Expr(indexColumn+" - 1")).Error
	if err != nil {
		return eris.Wrap(err, "close index gap")
	}
	return nil
}

// moveLocked places entry at target, shifting the rows in between by one towards the
// position it left.
func moveLocked(tx *gorm.DB, entry *Entry, target int) error {
	if target == entry.Index {
		return nil
	}

	shifted := tx.Model(&Entry{})
	if target < entry.Index {
		shifted = shifted.
			Where(indexColumn+" >= ? AND "+indexColumn+" < ?", target, entry.Index).
			Update(indexColumn, gorm.Expr(indexColumn+" + 1"))
	} else {
		shifted = shifted.
			Where(indexColumn+" > ? AND "+indexColumn+" <= ?", entry.Index, target).
			Update(indexColumn, gorm.Expr(indexColumn+" - 1"))
	}
	if shifted.Error != nil {
		return eris.Wrap(shifted.Error, "shift neighbours")
	}

	if err := tx.Model(&Entry{}).Where("id = ?", entry.ID).Update(indexColumn, target).Error; err != nil {
		return eris.Wrap(err, "move entry")
	}
	entry.Index = target
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
