// Package schema holds the normalized representation shared by desired and
// actual database schemas. Snapshots are built once per synchronization run
// and treated as immutable after validation.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldKind is a normalized column type tag, independent of any backend.
type FieldKind string

const (
	KindSmallInt    FieldKind = "smallint"
	KindInteger     FieldKind = "integer"
	KindBigInt      FieldKind = "bigint"
	KindFloat       FieldKind = "float"
	KindDouble      FieldKind = "double"
	KindVarChar     FieldKind = "varchar"
	KindText        FieldKind = "text"
	KindBoolean     FieldKind = "boolean"
	KindDate        FieldKind = "date"
	KindTimestamp   FieldKind = "timestamp"
	KindTimestampTZ FieldKind = "timestamptz"
	KindBinary      FieldKind = "binary"
	KindDecimal     FieldKind = "decimal"
	KindJSON        FieldKind = "json"
	KindUUID        FieldKind = "uuid"
)

// AllKinds lists every field kind, in declaration order.
func AllKinds() []FieldKind {
	return []FieldKind{
		KindSmallInt, KindInteger, KindBigInt, KindFloat, KindDouble,
		KindVarChar, KindText, KindBoolean, KindDate, KindTimestamp,
		KindTimestampTZ, KindBinary, KindDecimal, KindJSON, KindUUID,
	}
}

// FieldType is a normalized type plus optional size parameters. Override,
// when set, bypasses the type mapper and is emitted verbatim.
type FieldType struct {
	Kind      FieldKind
	Length    int // varchar length, 0 means backend default
	Precision int // decimal precision
	Scale     int // decimal scale
	Override  string
}

// Equal reports structural equality of two field types.
func (t FieldType) Equal(o FieldType) bool {
	return t.Kind == o.Kind && t.Length == o.Length &&
		t.Precision == o.Precision && t.Scale == o.Scale &&
		t.Override == o.Override
}

func (t FieldType) String() string {
	if t.Override != "" {
		return t.Override
	}
	switch {
	case t.Kind == KindVarChar && t.Length > 0:
		return fmt.Sprintf("%s(%d)", t.Kind, t.Length)
	case t.Kind == KindDecimal && t.Precision > 0:
		return fmt.Sprintf("%s(%d,%d)", t.Kind, t.Precision, t.Scale)
	default:
		return string(t.Kind)
	}
}

// Column describes a single table column.
type Column struct {
	Name     string
	Type     FieldType
	Nullable bool
	Default  *string
	Comment  string
	Position int // hint for rendering order inside CREATE TABLE
}

// Equal compares everything except Position, which is only a rendering hint.
func (c Column) Equal(o Column) bool {
	return c.Name == o.Name &&
		c.Type.Equal(o.Type) &&
		c.Nullable == o.Nullable &&
		equalDefault(c.Default, o.Default) &&
		c.Comment == o.Comment
}

func equalDefault(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return strings.TrimSpace(*a) == strings.TrimSpace(*b)
}

// Index describes a secondary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

func (i Index) Equal(o Index) bool {
	return i.Name == o.Name && i.Unique == o.Unique && equalStrings(i.Columns, o.Columns)
}

// ConstraintKind tags the Constraint variant.
type ConstraintKind string

const (
	PrimaryKey ConstraintKind = "primary_key"
	Unique     ConstraintKind = "unique"
	ForeignKey ConstraintKind = "foreign_key"
	Check      ConstraintKind = "check"
)

// Constraint is a closed tagged variant: exactly the fields relevant to its
// Kind are set.
type Constraint struct {
	Name       string
	Kind       ConstraintKind
	Columns    []string
	RefTable   string   // foreign key only
	RefColumns []string // foreign key only
	OnDelete   string   // foreign key only; empty means NO ACTION
	Expression string   // check only
}

func (c Constraint) Equal(o Constraint) bool {
	return c.Name == o.Name && c.Kind == o.Kind &&
		equalStrings(c.Columns, o.Columns) &&
		c.RefTable == o.RefTable &&
		equalStrings(c.RefColumns, o.RefColumns) &&
		c.OnDelete == o.OnDelete &&
		strings.TrimSpace(c.Expression) == strings.TrimSpace(o.Expression)
}

// Table describes a table with its columns, indexes and constraints keyed by
// name.
type Table struct {
	Name        string
	Columns     map[string]Column
	Indexes     map[string]Index
	Constraints map[string]Constraint
	Comment     string
}

// NewTable returns an empty table with initialized maps.
func NewTable(name string) Table {
	return Table{
		Name:        name,
		Columns:     map[string]Column{},
		Indexes:     map[string]Index{},
		Constraints: map[string]Constraint{},
	}
}

// PrimaryKeyColumns returns the PK column list, or nil when no PK is defined.
func (t Table) PrimaryKeyColumns() []string {
	for _, c := range t.Constraints {
		if c.Kind == PrimaryKey {
			return c.Columns
		}
	}
	return nil
}

// ForeignKeys returns FK constraints sorted by name.
func (t Table) ForeignKeys() []Constraint {
	var out []Constraint
	for _, c := range t.Constraints {
		if c.Kind == ForeignKey {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ColumnNames returns column names ordered by Position, then name.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := t.Columns[names[i]], t.Columns[names[j]]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Name < b.Name
	})
	return names
}

// Snapshot maps table name to its definition.
type Snapshot struct {
	Tables map[string]Table
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Tables: map[string]Table{}}
}

// TableNames returns table names in sorted order.
func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
