// Package plan orders schema changes into a dialect-correct statement
// sequence. Ordering comes from a dependency graph over the changes; dialect
// limitations are resolved by consulting the capability table and, where a
// direct ALTER is unavailable, substituting a shadow-table rebuild.
package plan

import (
	"fmt"

	"schemasync/internal/dialect"
	"schemasync/internal/schema"
)

// Statement is one rendered DDL statement.
type Statement struct {
	SQL        string
	Reversible bool
	// Heavy marks rebuild steps that take an exclusive lock on the table for
	// the duration of a full copy.
	Heavy bool
}

// Plan is the ordered statement sequence for one dialect.
type Plan struct {
	Dialect    dialect.Dialect
	Statements []Statement
	// Irreversible is set when any statement cannot be undone.
	Irreversible bool
}

// StatementText returns the ordered raw SQL, one entry per statement.
func (p *Plan) StatementText() []string {
	out := make([]string, len(p.Statements))
	for i, s := range p.Statements {
		out[i] = s.SQL
	}
	return out
}

// HasHeavyOperations reports whether the plan contains any rebuild steps.
func (p *Plan) HasHeavyOperations() bool {
	for _, s := range p.Statements {
		if s.Heavy {
			return true
		}
	}
	return false
}

// Options carries the context the planner needs beyond the change list.
type Options struct {
	// Desired and Actual are the snapshots the changes were diffed from; the
	// rebuild path needs full table shapes and the copy column mapping.
	Desired schema.Snapshot
	Actual  schema.Snapshot
	// TypeOverrides maps normalized kind names to backend types, consulted
	// by the type mapper before its built-in table.
	TypeOverrides map[string]string
}

// UnsupportedOperationError means the dialect cannot express a change even
// via rebuild. No partial plan is returned.
type UnsupportedOperationError struct {
	Dialect dialect.Dialect
	Change  string
	Reason  string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s cannot express %s: %s", e.Dialect, e.Change, e.Reason)
}

func (p *Plan) append(stmt Statement) {
	p.Statements = append(p.Statements, stmt)
	if !stmt.Reversible {
		p.Irreversible = true
	}
}
