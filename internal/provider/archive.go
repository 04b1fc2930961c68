package provider

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"github.com/cybre/ravebox/internal/store"
)

// Archive remembers every song that was ever requested and how often.
type Archive struct {
	db *gorm.DB
}

func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// Lookup returns the archived song for an external url, or nil.
func (a *Archive) Lookup(ctx context.Context, url string) (*store.ArchivedSong, error) {
	var song store.ArchivedSong
	err := a.db.WithContext(ctx).Where(&store.ArchivedSong{URL: url}).First(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "look up archived song %s", url)
	}
	return &song, nil
}

// Get loads an archived song by id.
func (a *Archive) Get(ctx context.Context, id int64) (*store.ArchivedSong, error) {
	var song store.ArchivedSong
	err := a.db.WithContext(ctx).First(&song, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eris.Wrapf(ErrNoProvider, "archived song %d does not exist", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load archived song %d", id)
	}
	return &song, nil
}

// Persist records a request for meta. archive counts it towards the request counter; a
// non-empty address adds a request log entry.
func (a *Archive) Persist(ctx context.Context, meta Metadata, archive bool, address string) (store.ArchivedSong, error) {
	var song store.ArchivedSong
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(&store.ArchivedSong{URL: meta.ExternalURL}).First(&song).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			song = store.ArchivedSong{
				URL:      meta.ExternalURL,
				Artist:   meta.Artist,
				Title:    meta.Title,
				Duration: meta.Duration,
				Cached:   meta.Cached,
			}
			if archive {
				song.Counter = 1
			}
			if err := tx.Create(&song).Error; err != nil {
				return eris.Wrap(err, "archive song")
			}
		case err != nil:
			return eris.Wrap(err, "load archived song")
		case archive:
			err := tx.Model(&song).Update("counter", gorm.Expr("counter + 1")).Error
			if err != nil {
				return eris.Wrap(err, "count request")
			}
			song.Counter++
		}

		if address == "" {
			return nil
		}
		if err := tx.Create(&store.RequestLog{SongID: &song.ID, Address: address}).Error; err != nil {
			return eris.Wrap(err, "log request")
		}
		return nil
	})
	return song, err
}

// LogPlay records that the song with external url started playing. Songs that were never
// archived are not logged.
func (a *Archive) LogPlay(ctx context.Context, url string, manual bool, votes int) error {
	song, err := a.Lookup(ctx, url)
	if err != nil || song == nil {
		return err
	}
	entry := store.PlayLog{SongID: &song.ID, ManuallyRequested: manual, Votes: votes}
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return eris.Wrap(err, "log play")
	}
	return nil
}
