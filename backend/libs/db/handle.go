package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect names the SQL flavour behind a Handle.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Handle owns a database/sql pool and hands out one connection per operation. Callers
// must release every connection they acquire; connections are never shared between
// goroutines.
type Handle struct {
	db      *sql.DB
	dialect Dialect
}

// Dialect reports the SQL flavour of the handle.
func (h *Handle) Dialect() Dialect {
	return h.dialect
}

// Conn acquires a dedicated connection scoped to a single operation.
func (h *Handle) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := h.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: acquire %s connection: %w", h.dialect, err)
	}
	return conn, nil
}

// Ping checks that the database is reachable.
func (h *Handle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (h *Handle) Close() error {
	return h.db.Close()
}

// Rebind rewrites `?` placeholders into the dialect's positional form.
func (h *Handle) Rebind(query string) string {
	return Rebind(h.dialect, query)
}

// Rebind rewrites `?` placeholders to `$1..$n` for PostgreSQL and leaves other dialects as is.
// Queries must not contain literal question marks.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
