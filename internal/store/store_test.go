package store

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesTables(t *testing.T) {
	db, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer Close(db)

	for _, model := range Models() {
		assert.True(t, db.Migrator().HasTable(model))
	}
}

func TestOpenIsPrivatePerCall(t *testing.T) {
	a, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer Close(a)
	b, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer Close(b)

	url := "file:///song.mp3"
	require.NoError(t, a.Create(&QueueEntry{Index: 1, InternalURL: &url, ExternalURL: "x"}).Error)

	var count int64
	require.NoError(t, b.Model(&QueueEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSQLGoesThroughLogger(t *testing.T) {
	var quiet bytes.Buffer
	db, err := Open(context.Background(), Options{Logger: slog.New(slog.NewTextHandler(&quiet, nil))})
	require.NoError(t, err)
	require.NoError(t, db.Model(&QueueEntry{}).Count(new(int64)).Error)
	require.NoError(t, Close(db))
	assert.NotContains(t, quiet.String(), "SELECT")

	var verbose bytes.Buffer
	db, err = Open(context.Background(), Options{Logger: slog.New(slog.NewTextHandler(&verbose, nil)), Debug: true})
	require.NoError(t, err)
	require.NoError(t, db.Model(&QueueEntry{}).Count(new(int64)).Error)
	require.NoError(t, Close(db))
	assert.Contains(t, verbose.String(), "component=sql")
	assert.Contains(t, verbose.String(), "SELECT count(*)")
	assert.Contains(t, verbose.String(), "queue_entries")
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "file::memory:", dsn(""))
	assert.Equal(t, "file:x?mode=memory", dsn("file:x?mode=memory"))
	assert.Contains(t, dsn("ravebox.db"), "busy_timeout")
}

func TestQueueEntryConfirmed(t *testing.T) {
	url := "file:///a.mp3"
	assert.False(t, QueueEntry{}.Confirmed())
	assert.True(t, QueueEntry{InternalURL: &url}.Confirmed())
}
