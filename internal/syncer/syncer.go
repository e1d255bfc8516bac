// Package syncer wires the pipeline together: read the desired schema,
// introspect the live one, diff, plan, record and apply, under a
// single-writer lock.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"schemasync/internal/apply"
	"schemasync/internal/config"
	"schemasync/internal/dialect"
	"schemasync/internal/diff"
	"schemasync/internal/introspect"
	"schemasync/internal/ledger"
	"schemasync/internal/plan"
	"schemasync/internal/provider"
	"schemasync/internal/schema"
)

// ErrNoChanges means desired and actual already agree.
var ErrNoChanges = errors.New("schemas already in sync")

// Syncer drives one target database.
type Syncer struct {
	cfg    config.Config
	log    *slog.Logger
	prov   provider.Provider
	db     *sql.DB
	d      dialect.Dialect
	store  *ledger.Store
	holder uuid.UUID
}

// New opens the target database and prepares the ledger. When the config
// names a schema file it takes precedence over the passed provider.
func New(cfg config.Config, prov provider.Provider, log *slog.Logger) (*Syncer, error) {
	d, err := dialect.Parse(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if cfg.SchemaFile != "" {
		prov = provider.NewFile(cfg.SchemaFile)
	}
	if prov == nil {
		return nil, fmt.Errorf("%w: no schema provider and no schema_file", config.ErrInvalidConfig)
	}
	db, err := introspect.Open(d, cfg.DSN)
	if err != nil {
		return nil, err
	}
	store := ledger.NewStore(db, d, cfg.HistoryTable)
	return &Syncer{
		cfg:    cfg,
		log:    log,
		prov:   prov,
		db:     db,
		d:      d,
		store:  store,
		holder: uuid.New(),
	}, nil
}

func (s *Syncer) Close() error {
	return s.db.Close()
}

// Store exposes the ledger for status queries and the report server.
func (s *Syncer) Store() *ledger.Store {
	return s.store
}

// Analyze returns the change set between desired and actual without
// generating SQL or touching the ledger.
func (s *Syncer) Analyze(ctx context.Context) ([]diff.Change, error) {
	desired, actual, err := s.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	return diff.Compute(desired, actual, s.policy())
}

// Generate computes the plan for the current divergence. The ledger is not
// touched; recording happens when the plan is applied.
func (s *Syncer) Generate(ctx context.Context) (*plan.Plan, error) {
	desired, actual, err := s.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	changes, err := diff.Compute(desired, actual, s.policy())
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, ErrNoChanges
	}
	return plan.Build(changes, s.d, plan.Options{
		Desired:       desired,
		Actual:        actual,
		TypeOverrides: s.cfg.TypeOverrides,
	})
}

// Sync runs the full pipeline: acquire the writer lock, plan, record the
// migration, execute it and release the lock. With dry_run set the plan is
// only logged.
func (s *Syncer) Sync(ctx context.Context) (apply.Report, error) {
	var rep apply.Report
	if err := s.store.Ensure(ctx); err != nil {
		return rep, err
	}
	if err := s.store.AcquireLock(ctx, s.lockTarget(), s.holder, s.cfg.LockTTL); err != nil {
		return rep, err
	}
	defer func() {
		if err := s.store.ReleaseLock(context.WithoutCancel(ctx), s.lockTarget(), s.holder); err != nil {
			s.log.Error("release lock", "error", err)
		}
	}()

	p, err := s.Generate(ctx)
	if errors.Is(err, ErrNoChanges) {
		s.log.Info("nothing to do, schemas in sync")
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	s.log.Info("plan generated",
		"statements", len(p.Statements),
		"irreversible", p.Irreversible,
		"heavy", p.HasHeavyOperations())

	executor := apply.New(s.db, s.d, s.store, s.log)
	opts := apply.Options{
		DryRun:                  s.cfg.DryRun,
		TransactionPerMigration: s.cfg.TransactionPerMigration,
	}
	if s.cfg.BackupBeforeMigrate {
		opts.Backup = s.runBackup
	}

	if s.cfg.DryRun {
		// dry runs leave no ledger trace
		rec := ledger.Record{Checksum: ledger.Checksum(p.StatementText())}
		return executor.Apply(ctx, p, rec, opts)
	}

	rec, err := s.store.RecordPending(ctx, string(s.d), p.StatementText(), p.Irreversible)
	if err != nil {
		return rep, err
	}
	if err := s.store.Verify(ctx, rec.ID); err != nil {
		return rep, err
	}
	start := time.Now()
	rep, err = executor.Apply(ctx, p, rec, opts)
	if err != nil {
		return rep, err
	}
	s.log.Info("migration applied",
		"record", rec.ID,
		"statements", rep.ExecutedThrough,
		"elapsed", time.Since(start))
	return rep, nil
}

// Status lists ledger records, newest first.
func (s *Syncer) Status(ctx context.Context, status ledger.Status) ([]ledger.Record, error) {
	if err := s.store.Ensure(ctx); err != nil {
		return nil, err
	}
	return s.store.List(ctx, status)
}

func (s *Syncer) snapshots(ctx context.Context) (desired, actual schema.Snapshot, err error) {
	desired, err = s.prov.DesiredSchema(ctx)
	if err != nil {
		return desired, actual, fmt.Errorf("desired schema: %w", err)
	}
	reader, err := introspect.New(s.db, s.d, introspect.Options{
		Schema:       s.cfg.Schema,
		IgnoreTables: []string{s.cfg.HistoryTable, s.cfg.HistoryTable + "_lock"},
	})
	if err != nil {
		return desired, actual, err
	}
	actual, err = reader.Snapshot(ctx)
	if err != nil {
		return desired, actual, fmt.Errorf("introspect: %w", err)
	}
	return desired, actual, nil
}

func (s *Syncer) policy() diff.Policy {
	return diff.Policy{
		AllowColumnRemoval: s.cfg.AllowColumnRemoval,
		AllowTableRemoval:  s.cfg.AllowTableRemoval,
		StrictMode:         s.cfg.StrictMode,
		Dialect:            s.d,
		TypeOverrides:      s.cfg.TypeOverrides,
	}
}

func (s *Syncer) lockTarget() string {
	if s.cfg.Schema != "" {
		return s.cfg.Schema
	}
	return "default"
}

// runBackup shells out to the configured dump command.
func (s *Syncer) runBackup(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.cfg.BackupCommand)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("backup command: %w: %s", err, out)
	}
	s.log.Info("backup completed", "command", s.cfg.BackupCommand)
	return nil
}
