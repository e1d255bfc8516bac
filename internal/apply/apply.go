// Package apply executes a migration plan against the target database and
// settles the corresponding ledger record.
package apply

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"schemasync/internal/dialect"
	"schemasync/internal/ledger"
	"schemasync/internal/plan"
)

// StatementError carries the position of the statement that failed so the
// operator can line it up with the ledger's executed_through counter.
type StatementError struct {
	Index int
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index+1, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// StatementStatus of one statement in a run.
type StatementStatus string

const (
	StatementExecuted StatementStatus = "executed"
	StatementFailed   StatementStatus = "failed"
	StatementSkipped  StatementStatus = "skipped"
)

// StatementResult is the per-statement outcome in a report.
type StatementResult struct {
	Index    int
	SQL      string
	Status   StatementStatus
	Duration time.Duration
	Error    string
}

// Report summarizes one apply run.
type Report struct {
	DryRun          bool
	Statements      []StatementResult
	ExecutedThrough int
	RolledBack      bool
}

// Options control a single run.
type Options struct {
	// DryRun logs every statement without executing or touching the ledger.
	DryRun bool

	// TransactionPerMigration wraps the whole run in one transaction when
	// the backend supports transactional DDL. Without it each statement
	// commits on its own.
	TransactionPerMigration bool

	// Backup, when set, runs once before the first irreversible statement.
	// A backup failure aborts the run before anything destructive happens.
	Backup func(ctx context.Context) error
}

// Executor runs plans. One executor serves one target database.
type Executor struct {
	db    *sql.DB
	d     dialect.Dialect
	store *ledger.Store
	log   *slog.Logger
}

func New(db *sql.DB, d dialect.Dialect, store *ledger.Store, log *slog.Logger) *Executor {
	return &Executor{db: db, d: d, store: store, log: log}
}

// Apply executes the plan recorded under rec. The record's checksum must
// still match the plan text; a mismatch means the plan was regenerated or
// tampered with since it was recorded, and nothing runs. An already applied
// record is a no-op, and a retried record resumes past its executed prefix.
func (e *Executor) Apply(ctx context.Context, p *plan.Plan, rec ledger.Record, opts Options) (Report, error) {
	rep := Report{DryRun: opts.DryRun}
	statements := p.StatementText()
	if len(statements) == 0 {
		return rep, nil
	}
	if got := ledger.Checksum(statements); got != rec.Checksum {
		return rep, fmt.Errorf("%w: plan hashes to %s, record %s holds %s",
			ledger.ErrDriftDetected, got, rec.ID, rec.Checksum)
	}
	if rec.Status == ledger.StatusApplied {
		e.log.Info("record already applied, nothing to do", "record", rec.ID)
		rep.ExecutedThrough = rec.ExecutedThrough
		return rep, nil
	}
	if rec.Status == ledger.StatusRolledBack {
		return rep, fmt.Errorf("record %s was rolled back, regenerate the plan instead of retrying it", rec.ID)
	}

	if opts.DryRun {
		for i, stmt := range statements {
			e.log.Info("dry run", "index", i+1, "statement", stmt)
			rep.Statements = append(rep.Statements, StatementResult{
				Index: i, SQL: stmt, Status: StatementSkipped,
			})
		}
		return rep, nil
	}

	if opts.Backup != nil && p.Irreversible {
		e.log.Info("running backup before irreversible changes", "record", rec.ID)
		if err := opts.Backup(ctx); err != nil {
			return rep, fmt.Errorf("backup: %w", err)
		}
	}

	caps := dialect.CapabilitiesFor(e.d)
	if opts.TransactionPerMigration && caps.TransactionalDDL {
		return e.applyTransactional(ctx, p, rec, rep)
	}
	return e.applyDirect(ctx, p, rec, rep)
}

func (e *Executor) applyTransactional(ctx context.Context, p *plan.Plan, rec ledger.Record, rep Report) (Report, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return rep, fmt.Errorf("begin migration transaction: %w", err)
	}
	for i, stmt := range p.Statements {
		res, err := e.execute(ctx, tx, i, stmt)
		rep.Statements = append(rep.Statements, res)
		if err != nil {
			tx.Rollback()
			rep.RolledBack = true
			e.markFailure(ctx, rec, 0, err)
			if mberr := e.store.MarkRolledBack(ctx, rec.ID); mberr != nil {
				e.log.Error("mark rolled back", "record", rec.ID, "error", mberr)
			}
			return rep, err
		}
		rep.ExecutedThrough = i + 1
	}
	if err := tx.Commit(); err != nil {
		rep.RolledBack = true
		e.markFailure(ctx, rec, 0, err)
		return rep, fmt.Errorf("commit migration: %w", err)
	}
	if err := e.store.MarkApplied(ctx, rec.ID, rep.ExecutedThrough); err != nil {
		return rep, fmt.Errorf("mark applied: %w", err)
	}
	return rep, nil
}

func (e *Executor) applyDirect(ctx context.Context, p *plan.Plan, rec ledger.Record, rep Report) (Report, error) {
	for i, stmt := range p.Statements {
		// a retried record picks up after the statements that already ran
		if i < rec.ExecutedThrough {
			rep.Statements = append(rep.Statements, StatementResult{
				Index: i, SQL: stmt.SQL, Status: StatementSkipped,
			})
			rep.ExecutedThrough = i + 1
			continue
		}
		res, err := e.execute(ctx, e.db, i, stmt)
		rep.Statements = append(rep.Statements, res)
		if err != nil {
			// whatever ran before this point stays applied
			e.markFailure(ctx, rec, i, err)
			return rep, err
		}
		rep.ExecutedThrough = i + 1
	}
	if err := e.store.MarkApplied(ctx, rec.ID, rep.ExecutedThrough); err != nil {
		return rep, fmt.Errorf("mark applied: %w", err)
	}
	return rep, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (e *Executor) execute(ctx context.Context, db execer, i int, stmt plan.Statement) (StatementResult, error) {
	start := time.Now()
	_, err := db.ExecContext(ctx, stmt.SQL)
	res := StatementResult{
		Index:    i,
		SQL:      stmt.SQL,
		Duration: time.Since(start),
	}
	if err != nil {
		res.Status = StatementFailed
		res.Error = err.Error()
		e.log.Error("statement failed", "index", i+1, "error", err)
		return res, &StatementError{Index: i, SQL: stmt.SQL, Err: err}
	}
	res.Status = StatementExecuted
	e.log.Debug("statement executed", "index", i+1, "duration", res.Duration)
	return res, nil
}

func (e *Executor) markFailure(ctx context.Context, rec ledger.Record, executedThrough int, cause error) {
	if err := e.store.MarkFailed(ctx, rec.ID, executedThrough, cause.Error()); err != nil {
		e.log.Error("mark failed", "record", rec.ID, "error", err)
	}
}
