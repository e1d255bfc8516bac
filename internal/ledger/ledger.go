// Package ledger persists the append-only record of planned and applied
// migrations, with integrity checksums and drift detection. The store works
// over any supported backend; a local sqlite file is the default.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schemasync/internal/dialect"
)

// Status of a migration record. Transitions are monotonic:
// Pending→Applied, Pending→Failed, Failed→Applied (retry),
// Failed→RolledBack.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

var (
	// ErrDriftDetected means a record's stored statement text no longer
	// matches its checksum. The run halts; resolution is manual.
	ErrDriftDetected = errors.New("migration drift detected")

	ErrRecordNotFound     = errors.New("migration record not found")
	ErrInvalidTransition  = errors.New("invalid migration status transition")
	ErrStatementsRequired = errors.New("a migration record requires at least one statement")
)

// Record is one migration attempt. The checksum is computed over the ordered
// statement text when the record is created and is immutable afterwards.
type Record struct {
	ID              uuid.UUID
	Dialect         string
	Checksum        string
	Statements      []string
	Status          Status
	Irreversible    bool
	CreatedAt       time.Time
	AppliedAt       *time.Time
	ExecutedThrough int // count of statements that ran before a failure
	ErrorDetail     string
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. Timestamps are stored
// as text and compared lexically (ORDER BY, lock expiry), which only works
// when every value has the same width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store reads and writes migration records in one backing database.
type Store struct {
	db       *sql.DB
	d        dialect.Dialect
	table    string
	lockConn *sql.Conn
}

// NewStore wraps an open database handle. Call Ensure before first use.
func NewStore(db *sql.DB, d dialect.Dialect, table string) *Store {
	if table == "" {
		table = "schemasync_history"
	}
	return &Store{db: db, d: d, table: table}
}

// Ensure creates the history and lock tables when missing.
func (s *Store) Ensure(ctx context.Context) error {
	history := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	dialect VARCHAR(32) NOT NULL,
	checksum VARCHAR(64) NOT NULL,
	statements TEXT NOT NULL,
	status VARCHAR(32) NOT NULL,
	irreversible INTEGER NOT NULL,
	created_at VARCHAR(64) NOT NULL,
	applied_at VARCHAR(64),
	executed_through INTEGER NOT NULL,
	error_detail TEXT
)`, dialect.Quote(s.d, s.table))
	if _, err := s.db.ExecContext(ctx, history); err != nil {
		return fmt.Errorf("ensure history table: %w", err)
	}
	lock := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	target VARCHAR(255) PRIMARY KEY,
	holder VARCHAR(36) NOT NULL,
	acquired_at VARCHAR(64) NOT NULL
)`, dialect.Quote(s.d, s.lockTable()))
	if _, err := s.db.ExecContext(ctx, lock); err != nil {
		return fmt.Errorf("ensure lock table: %w", err)
	}
	return nil
}

// Checksum hashes the ordered statement sequence.
func Checksum(statements []string) string {
	h := sha256.New()
	for _, stmt := range statements {
		h.Write([]byte(stmt))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RecordPending appends a new Pending record for the plan's statements.
func (s *Store) RecordPending(ctx context.Context, planDialect string, statements []string, irreversible bool) (Record, error) {
	if len(statements) == 0 {
		return Record{}, ErrStatementsRequired
	}
	rec := Record{
		ID:           uuid.New(),
		Dialect:      planDialect,
		Checksum:     Checksum(statements),
		Statements:   statements,
		Status:       StatusPending,
		Irreversible: irreversible,
		CreatedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(rec.Statements)
	if err != nil {
		return Record{}, err
	}
	query := s.rebind(fmt.Sprintf(`INSERT INTO %s
	(id, dialect, checksum, statements, status, irreversible, created_at, applied_at, executed_through, error_detail)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, NULL)`, dialect.Quote(s.d, s.table)))
	_, err = s.db.ExecContext(ctx, query,
		rec.ID.String(), rec.Dialect, rec.Checksum, string(raw),
		string(rec.Status), boolInt(rec.Irreversible), rec.CreatedAt.Format(timeLayout))
	if err != nil {
		return Record{}, fmt.Errorf("record pending migration: %w", err)
	}
	return rec, nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	query := s.rebind(fmt.Sprintf(`SELECT id, dialect, checksum, statements, status, irreversible, created_at, applied_at, executed_through, error_detail
	FROM %s WHERE id = ?`, dialect.Quote(s.d, s.table)))
	row := s.db.QueryRowContext(ctx, query, id.String())
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

// List returns records, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status) ([]Record, error) {
	query := fmt.Sprintf(`SELECT id, dialect, checksum, statements, status, irreversible, created_at, applied_at, executed_through, error_detail
	FROM %s`, dialect.Quote(s.d, s.table))
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkApplied moves a Pending record, or a Failed record whose retry
// finished, to Applied. executedThrough is the number of statements that
// ran, normally the full count.
func (s *Store) MarkApplied(ctx context.Context, id uuid.UUID, executedThrough int) error {
	now := time.Now().UTC().Format(timeLayout)
	query := s.rebind(fmt.Sprintf(`UPDATE %s
	SET status = ?, applied_at = ?, executed_through = ?, error_detail = NULL
	WHERE id = ? AND status IN (?, ?)`, dialect.Quote(s.d, s.table)))
	res, err := s.db.ExecContext(ctx, query, string(StatusApplied), now, executedThrough,
		id.String(), string(StatusPending), string(StatusFailed))
	if err != nil {
		return err
	}
	return s.checkTransition(res)
}

// MarkFailed moves a Pending record, or a Failed record whose retry failed
// again, to Failed, retaining how many statements ran and the failure detail
// for diagnosis.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, executedThrough int, detail string) error {
	now := time.Now().UTC().Format(timeLayout)
	query := s.rebind(fmt.Sprintf(`UPDATE %s
	SET status = ?, applied_at = ?, executed_through = ?, error_detail = ?
	WHERE id = ? AND status IN (?, ?)`, dialect.Quote(s.d, s.table)))
	res, err := s.db.ExecContext(ctx, query, string(StatusFailed), now, executedThrough, detail,
		id.String(), string(StatusPending), string(StatusFailed))
	if err != nil {
		return err
	}
	return s.checkTransition(res)
}

// MarkRolledBack moves a Failed record to RolledBack.
func (s *Store) MarkRolledBack(ctx context.Context, id uuid.UUID) error {
	query := s.rebind(fmt.Sprintf(`UPDATE %s SET status = ? WHERE id = ? AND status = ?`,
		dialect.Quote(s.d, s.table)))
	res, err := s.db.ExecContext(ctx, query, string(StatusRolledBack), id.String(), string(StatusFailed))
	if err != nil {
		return err
	}
	return s.checkTransition(res)
}

// Verify recomputes the checksum from the stored statement text and compares
// it against the recorded one. A mismatch is drift and halts the run; it is
// the sole guard against re-applying a tampered or stale migration.
func (s *Store) Verify(ctx context.Context, id uuid.UUID) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if got := Checksum(rec.Statements); got != rec.Checksum {
		return fmt.Errorf("%w: record %s checksum %s, statements hash to %s",
			ErrDriftDetected, rec.ID, rec.Checksum, got)
	}
	return nil
}

func (s *Store) checkTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.d != dialect.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func scanRecord(scan func(...any) error) (Record, error) {
	var (
		rec          Record
		id           string
		rawStmts     string
		status       string
		irreversible int
		createdAt    string
		appliedAt    sql.NullString
		errDetail    sql.NullString
	)
	if err := scan(&id, &rec.Dialect, &rec.Checksum, &rawStmts, &status, &irreversible,
		&createdAt, &appliedAt, &rec.ExecutedThrough, &errDetail); err != nil {
		return Record{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("parse record id: %w", err)
	}
	rec.ID = parsed
	rec.Status = Status(status)
	rec.Irreversible = irreversible != 0
	if err := json.Unmarshal([]byte(rawStmts), &rec.Statements); err != nil {
		return Record{}, fmt.Errorf("decode statements for %s: %w", id, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", id, err)
	}
	if appliedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, appliedAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("parse applied_at for %s: %w", id, err)
		}
		rec.AppliedAt = &t
	}
	rec.ErrorDetail = errDetail.String
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
