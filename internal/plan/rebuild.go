package plan

import (
	"fmt"
	"strings"

	"schemasync/internal/diff"
	"schemasync/internal/schema"
)

const rebuildSuffix = "__ssrebuild"

// buildRebuild renders the shadow-table sequence replacing every pending
// change on one table: create the shadow with the desired shape, copy all
// rows (casting where the column type changed), drop the original, rename
// the shadow into place, recreate the indexes. Every step carries the heavy
// flag: the copy holds an exclusive lock on the table.
func buildRebuild(r *renderer, table string, opts Options, changes []diff.Change) ([]Statement, error) {
	desired, ok := opts.Desired.Tables[table]
	if !ok {
		return nil, &UnsupportedOperationError{
			Dialect: r.d,
			Change:  fmt.Sprintf("rebuild %s", table),
			Reason:  "table missing from desired schema",
		}
	}
	actual, ok := opts.Actual.Tables[table]
	if !ok {
		return nil, &UnsupportedOperationError{
			Dialect: r.d,
			Change:  fmt.Sprintf("rebuild %s", table),
			Reason:  "table missing from actual schema",
		}
	}

	renamedTo := map[string]string{} // desired column -> actual source column
	for _, ch := range changes {
		if ch.Kind == diff.RenameColumn {
			renamedTo[ch.NewName] = ch.ColumnName
		}
	}

	shadowName := schema.TruncateIdentifier(table+rebuildSuffix, 63)
	shadow := desired
	shadow.Name = shadowName
	shadow.Indexes = map[string]schema.Index{} // recreated after the rename

	createStmts, err := r.createTable(shadow, nil)
	if err != nil {
		return nil, err
	}
	var stmts []Statement
	for _, s := range createStmts {
		s.Heavy = true
		stmts = append(stmts, s)
	}

	var targets, sources []string
	for _, name := range desired.ColumnNames() {
		want := desired.Columns[name]
		srcName := name
		if from, ok := renamedTo[name]; ok {
			srcName = from
		}
		have, ok := actual.Columns[srcName]
		if !ok {
			if !want.Nullable && want.Default == nil {
				return nil, &UnsupportedOperationError{
					Dialect: r.d,
					Change:  fmt.Sprintf("rebuild %s.%s", table, name),
					Reason:  "new NOT NULL column has no default to fill existing rows",
				}
			}
			continue // filled by the column default or NULL
		}
		expr := r.quote(srcName)
		if !have.Type.Equal(want.Type) {
			dbType, err := r.columnType(want)
			if err != nil {
				return nil, err
			}
			expr = fmt.Sprintf("CAST(%s AS %s)", expr, dbType)
		}
		targets = append(targets, r.quote(name))
		sources = append(sources, expr)
	}

	stmts = append(stmts, Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			r.quote(shadowName), strings.Join(targets, ", "),
			strings.Join(sources, ", "), r.quote(table)),
		Reversible: true,
		Heavy:      true,
	})
	stmts = append(stmts, Statement{
		SQL:        r.dropTable(table),
		Reversible: false,
		Heavy:      true,
	})
	stmts = append(stmts, Statement{
		SQL:        r.renameTable(shadowName, table),
		Reversible: true,
		Heavy:      true,
	})
	for _, idx := range sortedIndexes(desired) {
		stmts = append(stmts, Statement{
			SQL:        r.createIndex(table, idx),
			Reversible: true,
			Heavy:      true,
		})
	}
	return stmts, nil
}
