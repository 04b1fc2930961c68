package store

import (
	"time"
)

// QueueEntry is one pending song. Index values form a dense 1..N permutation at every
// commit boundary. A nil InternalURL marks a placeholder whose metadata is still resolving.
type QueueEntry struct {
	ID                int64   `gorm:"primaryKey;autoIncrement"`
	Index             int     `gorm:"column:queue_index;not null;index"`
	ManuallyRequested bool    `gorm:"not null;default:false"`
	Votes             int     `gorm:"not null;default:0"`
	InternalURL       *string `gorm:"column:internal_url"`
	ExternalURL       string  `gorm:"not null"`
	StreamURL         *string
	Artist            string
	Title             string
	Duration          float64
	CreatedAt         time.Time
}

// Confirmed reports whether the entry resolved to something playable.
func (e QueueEntry) Confirmed() bool {
	return e.InternalURL != nil
}

// CurrentSong is the singleton row for the song handed to the player. Created anchors the
// elapsed time: now - Created approximates the playback position.
type CurrentSong struct {
	ID                int64 `gorm:"primaryKey"`
	QueueKey          int64
	ManuallyRequested bool
	Votes             int
	InternalURL       string
	ExternalURL       string
	StreamURL         *string
	Artist            string
	Title             string
	Duration          float64
	Created           time.Time
	LastPaused        time.Time
}

// Setting stores one persisted knob as a JSON encoded value.
type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"type:text"`
}

// ArchivedSong counts how often a song was requested, keyed by its external url.
type ArchivedSong struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	URL         string `gorm:"uniqueIndex;not null"`
	Artist      string
	Title       string
	Duration    float64
	Counter     int `gorm:"not null;default:0"`
	Cached      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PlayLogs    []PlayLog    `gorm:"foreignKey:SongID"`
	RequestLogs []RequestLog `gorm:"foreignKey:SongID"`
}

// PlayLog records one song that started playing.
type PlayLog struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	SongID            *int64 `gorm:"index"`
	ManuallyRequested bool
	Votes             int
	CreatedAt         time.Time
}

// RequestLog records one accepted request.
type RequestLog struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SongID    *int64 `gorm:"index"`
	Address   string
	CreatedAt time.Time
}

// Models lists every table created at start.
func Models() []any {
	return []any{
		&QueueEntry{},
		&CurrentSong{},
		&Setting{},
		&ArchivedSong{},
		&PlayLog{},
		&RequestLog{},
	}
}
