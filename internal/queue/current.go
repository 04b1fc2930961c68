package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cybre/ravebox/internal/store"
)

const currentSongID = 1

// Current is the song handed to the player. At most one exists.
type Current = store.CurrentSong

// CurrentFromEntry builds the current song for a dequeued entry.
func CurrentFromEntry(e Entry, now time.Time) Current {
	return Current{
		ID:                currentSongID,
		QueueKey:          e.ID,
		ManuallyRequested: e.ManuallyRequested,
		Votes:             e.Votes,
		InternalURL:       deref(e.InternalURL),
		ExternalURL:       e.ExternalURL,
		StreamURL:         e.StreamURL,
		Artist:            e.Artist,
		Title:             e.Title,
		Duration:          e.Duration,
		Created:           now,
		LastPaused:        now,
	}
}

// Current returns the current song, or nil when nothing was handed off.
func (s *Store) Current(ctx context.Context) (*Current, error) {
	var current Current
	err := s.db.WithContext(ctx).First(&current, "id = ?", currentSongID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "load current song")
	}
	return &current, nil
}

// SetCurrent replaces the current song.
func (s *Store) SetCurrent(ctx context.Context, current Current) error {
	current.ID = currentSongID
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&current).Error
	if err != nil {
		return eris.Wrap(err, "store current song")
	}
	return nil
}

// UpdateCurrent applies fn to the current song inside a transaction. It returns nil without
// calling fn when there is no current song.
func (s *Store) UpdateCurrent(ctx context.Context, fn func(*Current)) (*Current, error) {
	var updated *Current
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Current
		err := tx.First(&current, "id = ?", currentSongID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "load current song")
		}
		fn(&current)
		if err := tx.Save(&current).Error; err != nil {
			return eris.Wrap(err, "save current song")
		}
		updated = &current
		return nil
	})
	return updated, err
}

// DeleteCurrent drops the current song. Deleting when none exists is fine.
func (s *Store) DeleteCurrent(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&Current{}, currentSongID).Error; err != nil {
		return eris.Wrap(err, "delete current song")
	}
	return nil
}
