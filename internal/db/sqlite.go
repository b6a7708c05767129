package db

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type SQLiteOpts struct {
	MaxOpenConns    int
	BusyTimeout     time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

var bindOnce sync.Once

// NewSQLiteConnection opens the on-device store. A single writer connection
// is the default; the modernc driver serializes writes anyway and a larger
// pool would split ":memory:" databases in tests.
func NewSQLiteConnection(path string, opts SQLiteOpts) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}

	// the modernc driver registers as "sqlite", which sqlx does not know
	bindOnce.Do(func() { sqlx.BindDriver("sqlite", sqlx.QUESTION) })

	dbx, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	dbx.SetMaxOpenConns(maxConns)
	dbx.SetMaxIdleConns(maxConns)
	if opts.ConnMaxLifetime > 0 {
		dbx.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := dbx.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())); err != nil {
		_ = dbx.Close()
		return nil, err
	}
	if _, err := dbx.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = dbx.Close()
		return nil, err
	}
	if _, err := dbx.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	return dbx, nil
}

// Migrate applies the embedded schema. Statements are idempotent
// (CREATE TABLE IF NOT EXISTS), so re-running is safe.
func Migrate(dbx *sqlx.DB) error {
	_, err := dbx.Exec(Schema)
	return err
}
