// Package dialect models per-backend DDL capability differences as data. The
// planner consults the capability table instead of branching on backend
// names, so adding a backend means adding a table entry.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect identifies a supported database backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Parse returns the dialect for a provider string.
func Parse(provider string) (Dialect, error) {
	switch strings.ToLower(provider) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", provider)
	}
}

// Capabilities lists which DDL forms a backend can express directly. A false
// entry makes the planner substitute a table rebuild.
type Capabilities struct {
	TransactionalDDL       bool
	AlterColumnType        bool
	AlterColumnNullability bool
	AlterColumnDefault     bool
	DropColumn             bool
	RenameColumn           bool
	AddConstraint          bool // on an existing table
	DropConstraint         bool
	AddForeignKey          bool // via ALTER TABLE on an existing table
	InlineUniqueInCreate   bool // unique constraints rendered inside CREATE TABLE
}

var capabilityTable = map[Dialect]Capabilities{
	Postgres: {
		TransactionalDDL:       true,
		AlterColumnType:        true,
		AlterColumnNullability: true,
		AlterColumnDefault:     true,
		DropColumn:             true,
		RenameColumn:           true,
		AddConstraint:          true,
		DropConstraint:         true,
		AddForeignKey:          true,
	},
	MySQL: {
		TransactionalDDL:       false,
		AlterColumnType:        true,
		AlterColumnNullability: true,
		AlterColumnDefault:     true,
		DropColumn:             true,
		RenameColumn:           true,
		AddConstraint:          true,
		DropConstraint:         true,
		AddForeignKey:          true,
		InlineUniqueInCreate:   true,
	},
	SQLite: {
		TransactionalDDL: true,
		RenameColumn:     true,
		// Everything else requires the shadow-table rebuild path.
	},
}

// CapabilitiesFor returns the capability entry for d.
func CapabilitiesFor(d Dialect) Capabilities {
	return capabilityTable[d]
}

// Quote quotes an identifier for the dialect.
func Quote(d Dialect, ident string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// QuoteAll quotes a list of identifiers.
func QuoteAll(d Dialect, idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = Quote(d, id)
	}
	return out
}

// QuoteLiteral escapes a string literal for embedding in DDL (comments).
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
