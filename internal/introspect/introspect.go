// Package introspect reads the live catalog of a database into the neutral
// snapshot form, so desired and actual schemas compare on equal footing.
package introspect

import (
	"context"
	"database/sql"
	"fmt"

	"schemasync/internal/dialect"
	"schemasync/internal/schema"
)

// Reader produces a snapshot of what currently exists in the database.
type Reader interface {
	Snapshot(ctx context.Context) (schema.Snapshot, error)
}

// Options narrow what a reader looks at.
type Options struct {
	// Schema is the namespace to read: the search schema on postgres
	// (default "public") and the current database on mysql. Ignored for
	// sqlite.
	Schema string

	// IgnoreTables are infrastructure tables excluded from the snapshot,
	// such as the migration history and lock tables.
	IgnoreTables []string
}

// New picks the catalog reader for the backend.
func New(db *sql.DB, d dialect.Dialect, opts Options) (Reader, error) {
	ignored := make(map[string]bool, len(opts.IgnoreTables))
	for _, t := range opts.IgnoreTables {
		ignored[t] = true
	}
	switch d {
	case dialect.Postgres:
		ns := opts.Schema
		if ns == "" {
			ns = "public"
		}
		return &postgresReader{db: db, schema: ns, ignored: ignored}, nil
	case dialect.MySQL:
		return &mysqlReader{db: db, schema: opts.Schema, ignored: ignored}, nil
	case dialect.SQLite:
		return &sqliteReader{db: db, ignored: ignored}, nil
	}
	return nil, fmt.Errorf("no catalog reader for backend %q", d)
}
