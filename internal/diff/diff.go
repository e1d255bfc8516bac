package diff

import (
	"fmt"
	"sort"

	"schemasync/internal/dialect"
	"schemasync/internal/schema"
)

// Policy gates destructive changes. A disallowed removal aborts the diff
// instead of being silently dropped from the change set.
type Policy struct {
	AllowColumnRemoval bool
	AllowTableRemoval  bool
	// StrictMode additionally rejects in-place column type and
	// nullable-to-required alterations, which rewrite or constrain existing
	// rows.
	StrictMode bool

	// Dialect, when set, compares column types by their rendered backend
	// type rather than by raw kind. Lossy catalogs report what the backend
	// stores, not what was declared: sqlite holds a bigint column as
	// integer, so kind comparison would flag a type change on every run
	// even after the schema converged.
	Dialect dialect.Dialect
	// TypeOverrides are the same overrides used when rendering DDL, so the
	// comparison sees the types a plan would actually emit.
	TypeOverrides map[string]string
}

// typesEqual reports whether two column types would produce the same backend
// type. Without a dialect it falls back to raw kind equality.
func (p Policy) typesEqual(a, b schema.FieldType) bool {
	if a.Equal(b) {
		return true
	}
	if p.Dialect == "" {
		return false
	}
	am, errA := dialect.MapType(a, p.Dialect, p.TypeOverrides)
	bm, errB := dialect.MapType(b, p.Dialect, p.TypeOverrides)
	return errA == nil && errB == nil && am == bm
}

// Compute diffs desired against actual and returns the change sequence.
// Both snapshots are validated first; identical inputs always produce an
// identical ordering (tables and objects are visited sorted by name).
func Compute(desired, actual schema.Snapshot, policy Policy) ([]Change, error) {
	if err := desired.Validate(); err != nil {
		return nil, fmt.Errorf("desired schema: %w", err)
	}
	if err := actual.Validate(); err != nil {
		return nil, fmt.Errorf("actual schema: %w", err)
	}

	var changes []Change

	for _, name := range desired.TableNames() {
		if _, ok := actual.Tables[name]; !ok {
			table := desired.Tables[name]
			changes = append(changes, Change{Kind: AddTable, Table: name, TableDef: &table})
		}
	}

	shared := make([]string, 0, len(desired.Tables))
	for _, name := range desired.TableNames() {
		if _, ok := actual.Tables[name]; ok {
			shared = append(shared, name)
		}
	}
	for _, name := range shared {
		tableChanges, err := diffTable(desired.Tables[name], actual.Tables[name], policy)
		if err != nil {
			return nil, err
		}
		changes = append(changes, tableChanges...)
	}

	for _, name := range actual.TableNames() {
		if _, ok := desired.Tables[name]; !ok {
			if !policy.AllowTableRemoval || policy.StrictMode {
				return nil, &DestructiveChangeError{Change: DropTable, Table: name}
			}
			changes = append(changes, Change{Kind: DropTable, Table: name})
		}
	}

	return changes, nil
}

// diffTable emits per-table changes in a fixed kind order: constraint and
// index drops, renames, column drops, column adds, column alterations, index
// adds, constraint adds.
func diffTable(desired, actual schema.Table, policy Policy) ([]Change, error) {
	var changes []Change

	renames := detectRenames(desired, actual, policy)
	renamedFrom := map[string]string{}
	renamedTo := map[string]string{}
	for from, to := range renames {
		renamedFrom[from] = to
		renamedTo[to] = from
	}

	// Constraints present only in actual are dropped first so that columns
	// they reference can be removed afterwards.
	for _, name := range sortedKeys(actual.Constraints) {
		con := actual.Constraints[name]
		if want, ok := desired.Constraints[name]; ok && want.Equal(con) {
			continue
		}
		changes = append(changes, Change{
			Kind:           DropConstraint,
			Table:          actual.Name,
			ConstraintName: name,
			ConstraintKind: con.Kind,
		})
	}
	for _, name := range sortedKeys(actual.Indexes) {
		idx := actual.Indexes[name]
		if want, ok := desired.Indexes[name]; ok && want.Equal(idx) {
			continue
		}
		changes = append(changes, Change{Kind: DropIndex, Table: actual.Name, IndexName: name})
	}

	for _, from := range sortedKeys(renames) {
		to := renames[from]
		col := desired.Columns[to]
		changes = append(changes, Change{
			Kind:       RenameColumn,
			Table:      actual.Name,
			ColumnName: from,
			NewName:    to,
			Column:     &col,
		})
	}

	for _, name := range sortedKeys(actual.Columns) {
		if _, ok := desired.Columns[name]; ok {
			continue
		}
		if _, renamed := renamedFrom[name]; renamed {
			continue
		}
		if !policy.AllowColumnRemoval || policy.StrictMode {
			return nil, &DestructiveChangeError{Change: DropColumn, Table: actual.Name, Column: name}
		}
		changes = append(changes, Change{Kind: DropColumn, Table: actual.Name, ColumnName: name})
	}

	for _, name := range sortedKeys(desired.Columns) {
		col := desired.Columns[name]
		if _, ok := actual.Columns[name]; ok {
			continue
		}
		if _, renamed := renamedTo[name]; renamed {
			continue
		}
		changes = append(changes, Change{Kind: AddColumn, Table: actual.Name, Column: &col})
	}

	for _, name := range sortedKeys(desired.Columns) {
		want := desired.Columns[name]
		var have schema.Column
		if from, ok := renamedTo[name]; ok {
			have = actual.Columns[from]
			have.Name = name // renamed before alters apply
		} else if cur, ok := actual.Columns[name]; ok {
			have = cur
		} else {
			continue
		}
		alterChanges, err := diffColumn(actual.Name, have, want, policy)
		if err != nil {
			return nil, err
		}
		changes = append(changes, alterChanges...)
	}

	for _, name := range sortedKeys(desired.Indexes) {
		idx := desired.Indexes[name]
		if have, ok := actual.Indexes[name]; ok && have.Equal(idx) {
			continue
		}
		changes = append(changes, Change{Kind: AddIndex, Table: actual.Name, Index: &idx})
	}
	for _, name := range sortedKeys(desired.Constraints) {
		con := desired.Constraints[name]
		if have, ok := actual.Constraints[name]; ok && have.Equal(con) {
			continue
		}
		changes = append(changes, Change{Kind: AddConstraint, Table: actual.Name, Constraint: &con})
	}

	return changes, nil
}

func diffColumn(table string, have, want schema.Column, policy Policy) ([]Change, error) {
	var changes []Change
	if !policy.typesEqual(have.Type, want.Type) {
		if policy.StrictMode {
			return nil, &DestructiveChangeError{Change: AlterColumnType, Table: table, Column: want.Name}
		}
		changes = append(changes, Change{
			Kind:      AlterColumnType,
			Table:     table,
			Column:    &want,
			OldColumn: &have,
		})
	}
	if have.Nullable != want.Nullable {
		if policy.StrictMode && have.Nullable && !want.Nullable {
			return nil, &DestructiveChangeError{Change: AlterColumnNullability, Table: table, Column: want.Name}
		}
		changes = append(changes, Change{
			Kind:      AlterColumnNullability,
			Table:     table,
			Column:    &want,
			OldColumn: &have,
		})
	}
	if !defaultsEqual(have.Default, want.Default) {
		changes = append(changes, Change{
			Kind:      AlterColumnDefault,
			Table:     table,
			Column:    &want,
			OldColumn: &have,
		})
	}
	return changes, nil
}

// detectRenames pairs a dropped column with an added one in the same table.
// The rule: the pairing is made only when the table has exactly one column
// present only in actual and exactly one present only in desired, and the two
// agree on type and nullability. Any other cardinality, or any type or
// nullability mismatch, yields separate drop and add changes.
func detectRenames(desired, actual schema.Table, policy Policy) map[string]string {
	var onlyActual, onlyDesired []string
	for _, name := range sortedKeys(actual.Columns) {
		if _, ok := desired.Columns[name]; !ok {
			onlyActual = append(onlyActual, name)
		}
	}
	for _, name := range sortedKeys(desired.Columns) {
		if _, ok := actual.Columns[name]; !ok {
			onlyDesired = append(onlyDesired, name)
		}
	}
	if len(onlyActual) != 1 || len(onlyDesired) != 1 {
		return nil
	}
	from, to := onlyActual[0], onlyDesired[0]
	dropped := actual.Columns[from]
	added := desired.Columns[to]
	if !policy.typesEqual(dropped.Type, added.Type) || dropped.Nullable != added.Nullable {
		return nil
	}
	return map[string]string{from: to}
}

func defaultsEqual(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
