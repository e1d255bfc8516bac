// Package diff computes the ordered set of structural changes between a
// desired and an actual schema snapshot.
package diff

import (
	"fmt"

	"schemasync/internal/schema"
)

// Kind tags the Change variant. The set is closed so the planner and the
// statement renderer can handle it exhaustively.
type Kind string

const (
	AddTable               Kind = "add_table"
	DropTable              Kind = "drop_table"
	RenameTable            Kind = "rename_table"
	AddColumn              Kind = "add_column"
	DropColumn             Kind = "drop_column"
	RenameColumn           Kind = "rename_column"
	AlterColumnType        Kind = "alter_column_type"
	AlterColumnNullability Kind = "alter_column_nullability"
	AlterColumnDefault     Kind = "alter_column_default"
	AddIndex               Kind = "add_index"
	DropIndex              Kind = "drop_index"
	AddConstraint          Kind = "add_constraint"
	DropConstraint         Kind = "drop_constraint"
)

// Change is one atomic structural difference. Only the fields relevant to
// Kind are populated.
type Change struct {
	Kind  Kind
	Table string

	TableDef *schema.Table // AddTable

	NewName string // RenameTable, RenameColumn (target name)

	Column    *schema.Column // AddColumn, Alter* (desired definition), RenameColumn
	OldColumn *schema.Column // Alter* (current definition)
	ColumnName string        // DropColumn, RenameColumn (current name)

	Index     *schema.Index // AddIndex
	IndexName string        // DropIndex

	Constraint     *schema.Constraint // AddConstraint
	ConstraintName string             // DropConstraint
	ConstraintKind schema.ConstraintKind
}

func (c Change) String() string {
	switch c.Kind {
	case AddTable, DropTable:
		return fmt.Sprintf("%s %s", c.Kind, c.Table)
	case RenameTable:
		return fmt.Sprintf("%s %s -> %s", c.Kind, c.Table, c.NewName)
	case AddColumn, AlterColumnType, AlterColumnNullability, AlterColumnDefault:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Column.Name)
	case DropColumn:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.ColumnName)
	case RenameColumn:
		return fmt.Sprintf("%s %s.%s -> %s", c.Kind, c.Table, c.ColumnName, c.NewName)
	case AddIndex:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Index.Name)
	case DropIndex:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.IndexName)
	case AddConstraint:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Constraint.Name)
	case DropConstraint:
		return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.ConstraintName)
	default:
		return string(c.Kind)
	}
}

// DestructiveChangeError reports a change rejected by policy. Diffing aborts
// with no partial result.
type DestructiveChangeError struct {
	Change Kind
	Table  string
	Column string
}

func (e *DestructiveChangeError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("destructive change rejected by policy: %s %s.%s", e.Change, e.Table, e.Column)
	}
	return fmt.Sprintf("destructive change rejected by policy: %s %s", e.Change, e.Table)
}
