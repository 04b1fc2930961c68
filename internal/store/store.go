package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options configures the database handle.
type Options struct {
	// Path is a file path or a full SQLite DSN. Empty means a private in-memory database.
	Path   string
	Logger *slog.Logger
	Debug  bool
}

// Open connects to the SQLite database and creates missing tables.
// A single connection is used so every transaction is serialized, which is what keeps the
// queue re-indexing atomic under concurrent callers.
func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(dsn(opts.Path)), &gorm.Config{
		Logger: newSQLLogger(opts.Logger, opts.Debug),
	})
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, eris.Wrap(err, "access database handle")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return nil, eris.Wrap(err, "create tables")
	}

	opts.Logger.Debug("database ready", slog.String("path", opts.Path))

	return db, nil
}

// newSQLLogger routes gorm's output through l. Statements are only logged when debug is
// set; slow queries and errors always are.
func newSQLLogger(l *slog.Logger, debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(slog.NewLogLogger(l.With(slog.String("component", "sql")).Handler(), slog.LevelInfo), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return eris.Wrap(err, "access database handle")
	}
	return sqlDB.Close()
}

func dsn(path string) string {
	switch {
	case path == "":
		return "file::memory:"
	case strings.HasPrefix(path, "file:"):
		return path
	default:
		return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
}
