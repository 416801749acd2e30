package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

type Option func(*options)

type options struct {
	queryLog *slog.Logger
}

// WithQueryLog logs every statement to logger at debug level.
func WithQueryLog(logger *slog.Logger) Option {
	return func(o *options) { o.queryLog = logger }
}

// Open opens the node's sqlite file with either the cgo driver ("sqlite3",
// mattn) or the pure Go one ("sqlite", modernc) for cross-compiled boards.
// A single connection is kept: the node has one writer.
func Open(ctx context.Context, driver, path string, opts ...Option) (*sql.DB, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if o.queryLog != nil {
		connector, err := newLogConnector(driver, dsn, o.queryLog)
		if err != nil {
			return nil, err
		}
		db = sql.OpenDB(connector)
	} else if db, err = sql.Open(driver, dsn); err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(driver, path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}

	if !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		path = "file:" + path
	}

	// synchronous=FULL: a power cut must never leave a torn config block.
	var params []string
	switch driver {
	case "sqlite3":
		params = []string{
			"_busy_timeout=5000",
			"_journal_mode=WAL",
			"_synchronous=FULL",
		}
	case "sqlite":
		params = []string{
			"_pragma=busy_timeout(5000)",
			"_pragma=journal_mode(WAL)",
			"_pragma=synchronous(FULL)",
		}
	default:
		return "", fmt.Errorf("unsupported db driver %q", driver)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&"), nil
}
