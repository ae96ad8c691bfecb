package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultSQLiteMaxOpenConns = 8
	defaultSQLiteBusyTimeout  = 5 * time.Second
)

// SQLiteOptions configures NewSQLite.
type SQLiteOptions struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// NewSQLite opens a SQLite database in WAL mode with synchronous=NORMAL. The pragmas are part
// of the DSN so every pooled connection gets them, not only the first one. NORMAL trades the
// last few commits after a power loss for write throughput.
func NewSQLite(ctx context.Context, opts SQLiteOptions) (*Handle, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("db: empty sqlite path")
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultSQLiteBusyTimeout
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultSQLiteMaxOpenConns
	}

	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + params.Encode()

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(defaultConnIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping sqlite %s: %w", path, err)
	}

	return &Handle{db: sqlDB, dialect: DialectSQLite}, nil
}
