package syncer_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"schemasync/internal/config"
	"schemasync/internal/ledger"
	"schemasync/internal/provider"
	"schemasync/internal/schema"
	"schemasync/internal/syncer"
)

func usersSnapshot(age schema.FieldType) schema.Snapshot {
	tbl := schema.NewTable("users")
	tbl.Columns["id"] = schema.Column{Name: "id", Type: schema.FieldType{Kind: schema.KindBigInt}, Position: 1}
	tbl.Columns["email"] = schema.Column{Name: "email", Type: schema.FieldType{Kind: schema.KindVarChar, Length: 255}, Position: 2}
	tbl.Columns["age"] = schema.Column{Name: "age", Type: age, Nullable: true, Position: 3}
	tbl.Constraints["pk_users"] = schema.Constraint{Name: "pk_users", Kind: schema.PrimaryKey, Columns: []string{"id"}}
	tbl.Indexes["ix_users_email"] = schema.Index{Name: "ix_users_email", Columns: []string{"email"}}
	snap := schema.NewSnapshot()
	snap.Tables["users"] = tbl
	return snap
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Runs the whole pipeline twice against a real sqlite file: create the
// table, seed rows through a plain connection, then narrow a text column
// to bigint so the second run goes down the shadow-table path. The data
// must survive the rebuild and both runs must leave an empty change set
// despite sqlite reporting every column as INTEGER or TEXT.
func TestSyncEndToEndSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "app.db")

	cfg := config.Default()
	cfg.DSN = dsn

	s, err := syncer.New(cfg, provider.NewStatic(usersSnapshot(schema.FieldType{Kind: schema.KindVarChar, Length: 32})), discardLogger())
	require.NoError(t, err)

	rep, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.ExecutedThrough) // CREATE TABLE plus the email index
	assert.False(t, rep.RolledBack)

	changes, err := s.Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "freshly created schema should introspect as converged")
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO "users" ("id", "email", "age") VALUES
		(1, 'ada@example.com', '31'),
		(2, 'grace@example.com', '32'),
		(3, 'edsger@example.com', '33')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s2, err := syncer.New(cfg, provider.NewStatic(usersSnapshot(schema.FieldType{Kind: schema.KindBigInt})), discardLogger())
	require.NoError(t, err)
	defer s2.Close()

	rep, err = s2.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, rep.RolledBack)
	assert.Equal(t, 5, rep.ExecutedThrough) // create shadow, copy, drop, rename, reindex

	changes, err = s2.Analyze(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "rebuilt table should introspect as converged")

	applied, err := s2.Status(ctx, ledger.StatusApplied)
	require.NoError(t, err)
	assert.Len(t, applied, 2)

	db, err = sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "users"`).Scan(&count))
	assert.Equal(t, 3, count)

	rows, err := db.QueryContext(ctx, `SELECT "age" FROM "users" ORDER BY "id"`)
	require.NoError(t, err)
	defer rows.Close()
	var ages []int64
	for rows.Next() {
		var age int64
		require.NoError(t, rows.Scan(&age))
		ages = append(ages, age)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{31, 32, 33}, ages)
}

// A second sync with nothing to do must not record anything in the ledger.
func TestSyncNoChangesLeavesLedgerAlone(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "app.db")

	s, err := syncer.New(cfg, provider.NewStatic(usersSnapshot(schema.FieldType{Kind: schema.KindText})), discardLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Sync(ctx)
	require.NoError(t, err)
	rep, err := s.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.ExecutedThrough)

	applied, err := s.Status(ctx, ledger.StatusApplied)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}
