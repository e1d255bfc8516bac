package plan

import (
	"fmt"
	"sort"

	"github.com/yourbasic/graph"

	"schemasync/internal/dialect"
	"schemasync/internal/diff"
	"schemasync/internal/schema"
)

// Build orders the change set into an executable plan for the given dialect.
// It returns either a complete plan or an error; no partial plan is ever
// produced.
func Build(changes []diff.Change, d dialect.Dialect, opts Options) (*Plan, error) {
	caps := dialect.CapabilitiesFor(d)
	r := &renderer{d: d, caps: caps, overrides: opts.TypeOverrides}
	p := &Plan{Dialect: d}

	var creates, dropsTables []diff.Change
	perTable := map[string][]diff.Change{}
	for _, ch := range changes {
		switch ch.Kind {
		case diff.AddTable:
			creates = append(creates, ch)
		case diff.DropTable:
			dropsTables = append(dropsTables, ch)
		default:
			perTable[ch.Table] = append(perTable[ch.Table], ch)
		}
	}

	// A table whose pending changes include any form the dialect cannot
	// express directly is rebuilt wholesale; all of its changes are consumed
	// by the rebuild sequence.
	rebuild := map[string]bool{}
	for table, chs := range perTable {
		for _, ch := range chs {
			if err := checkExpressible(ch, d); err != nil {
				return nil, err
			}
			if !directlySupported(ch, caps) {
				rebuild[table] = true
			}
		}
	}
	orderedCreates, deferredFKs, err := orderCreates(creates, caps, d)
	if err != nil {
		return nil, err
	}

	// Drops of constraints and indexes come first so dependent columns and
	// tables can go afterwards.
	for _, ch := range selectKind(perTable, rebuild, diff.DropConstraint) {
		p.append(r.dropConstraint(ch.Table, ch.ConstraintName, ch.ConstraintKind))
	}
	for _, ch := range selectKind(perTable, rebuild, diff.DropIndex) {
		p.append(Statement{SQL: r.dropIndex(ch.Table, ch.IndexName), Reversible: true})
	}

	for _, ch := range orderedCreates {
		stmts, err := r.createTable(*ch.TableDef, deferredSourceTables(deferredFKs, ch.Table))
		if err != nil {
			return nil, err
		}
		for _, s := range stmts {
			p.append(s)
		}
	}

	for _, table := range sortedRebuildTables(rebuild) {
		stmts, err := buildRebuild(r, table, opts, perTable[table])
		if err != nil {
			return nil, err
		}
		for _, s := range stmts {
			p.append(s)
		}
	}

	for _, ch := range selectKind(perTable, rebuild, diff.RenameColumn) {
		p.append(r.renameColumn(ch.Table, ch.ColumnName, ch.NewName))
	}
	for _, ch := range selectKind(perTable, rebuild, diff.RenameTable) {
		p.append(Statement{SQL: r.renameTable(ch.Table, ch.NewName), Reversible: true})
	}
	for _, ch := range selectKind(perTable, rebuild, diff.AddColumn) {
		stmts, err := r.addColumn(ch.Table, *ch.Column)
		if err != nil {
			return nil, err
		}
		for _, s := range stmts {
			p.append(s)
		}
	}
	for _, kind := range []diff.Kind{diff.AlterColumnType, diff.AlterColumnNullability, diff.AlterColumnDefault} {
		for _, ch := range selectKind(perTable, rebuild, kind) {
			stmts, err := r.alterColumn(ch)
			if err != nil {
				return nil, err
			}
			for _, s := range stmts {
				p.append(s)
			}
		}
	}
	for _, ch := range selectKind(perTable, rebuild, diff.DropColumn) {
		p.append(r.dropColumn(ch.Table, ch.ColumnName))
	}

	for _, ch := range orderDrops(dropsTables, opts.Actual) {
		p.append(Statement{SQL: r.dropTable(ch.Table), Reversible: false})
	}

	for _, ch := range selectKind(perTable, rebuild, diff.AddIndex) {
		p.append(Statement{SQL: r.createIndex(ch.Table, *ch.Index), Reversible: true})
	}
	addCons := selectKind(perTable, rebuild, diff.AddConstraint)
	addCons = append(addCons, deferredFKs...)
	sort.SliceStable(addCons, func(i, j int) bool {
		if addCons[i].Table != addCons[j].Table {
			return addCons[i].Table < addCons[j].Table
		}
		return addCons[i].Constraint.Name < addCons[j].Constraint.Name
	})
	for _, ch := range addCons {
		stmt, err := r.addConstraint(ch.Table, *ch.Constraint)
		if err != nil {
			return nil, err
		}
		p.append(stmt)
	}

	return p, nil
}

// checkExpressible rejects changes no dialect or rebuild can realize.
func checkExpressible(ch diff.Change, d dialect.Dialect) error {
	if ch.Kind == diff.AddColumn && !ch.Column.Nullable && ch.Column.Default == nil {
		return &UnsupportedOperationError{
			Dialect: d,
			Change:  ch.String(),
			Reason:  "adding a NOT NULL column with no default; existing rows cannot be filled",
		}
	}
	return nil
}

func directlySupported(ch diff.Change, caps dialect.Capabilities) bool {
	switch ch.Kind {
	case diff.AlterColumnType:
		return caps.AlterColumnType
	case diff.AlterColumnNullability:
		return caps.AlterColumnNullability
	case diff.AlterColumnDefault:
		return caps.AlterColumnDefault
	case diff.DropColumn:
		return caps.DropColumn
	case diff.RenameColumn:
		return caps.RenameColumn
	case diff.AddConstraint:
		if ch.Constraint.Kind == schema.ForeignKey {
			return caps.AddForeignKey
		}
		return caps.AddConstraint
	case diff.DropConstraint:
		return caps.DropConstraint
	default:
		return true
	}
}

// orderCreates topologically orders new tables so that a referenced table is
// created before any table whose foreign key names it. Cycles among new
// tables are broken two-pass: the cross-referencing foreign keys inside the
// cycle are stripped from the CREATE statements and re-added once every
// table exists.
func orderCreates(creates []diff.Change, caps dialect.Capabilities, d dialect.Dialect) ([]diff.Change, []diff.Change, error) {
	if len(creates) == 0 {
		return nil, nil, nil
	}
	sort.Slice(creates, func(i, j int) bool { return creates[i].Table < creates[j].Table })

	index := map[string]int{}
	for i, ch := range creates {
		index[ch.Table] = i
	}
	build := func(skip map[edge]bool) *graph.Mutable {
		g := graph.New(len(creates))
		for i, ch := range creates {
			for _, fk := range ch.TableDef.ForeignKeys() {
				j, ok := index[fk.RefTable]
				if !ok || i == j {
					continue
				}
				if skip[edge{from: ch.Table, constraint: fk.Name}] {
					continue
				}
				g.Add(j, i) // referenced table first
			}
		}
		return g
	}

	g := build(nil)
	order, ok := graph.TopSort(g)
	var deferred []diff.Change
	if !ok {
		// Strip foreign keys that participate in cyclic components.
		stripped := map[edge]bool{}
		cyclic := map[string]bool{}
		for _, comp := range graph.StrongComponents(g) {
			if len(comp) < 2 {
				continue
			}
			for _, v := range comp {
				cyclic[creates[v].Table] = true
			}
		}
		for _, ch := range creates {
			if !cyclic[ch.Table] {
				continue
			}
			for _, fk := range ch.TableDef.ForeignKeys() {
				if fk.RefTable == ch.Table || !cyclic[fk.RefTable] {
					continue
				}
				if !caps.AddForeignKey {
					return nil, nil, &UnsupportedOperationError{
						Dialect: d,
						Change:  fmt.Sprintf("add_constraint %s.%s", ch.Table, fk.Name),
						Reason:  "foreign key cycle requires adding constraints after creation, which this dialect cannot do",
					}
				}
				fk := fk
				stripped[edge{from: ch.Table, constraint: fk.Name}] = true
				deferred = append(deferred, diff.Change{
					Kind:       diff.AddConstraint,
					Table:      ch.Table,
					Constraint: &fk,
				})
			}
		}
		order, ok = graph.TopSort(build(stripped))
		if !ok {
			return nil, nil, &UnsupportedOperationError{
				Dialect: d,
				Change:  "add_table ordering",
				Reason:  "unresolvable dependency cycle among new tables",
			}
		}
	}

	ordered := make([]diff.Change, len(creates))
	for pos, v := range order {
		ordered[pos] = creates[v]
	}
	return ordered, deferred, nil
}

type edge struct {
	from       string
	constraint string
}

// deferredSourceTables returns the referenced-table set whose foreign keys
// were stripped from this table's CREATE statement.
func deferredSourceTables(deferred []diff.Change, table string) map[string]bool {
	out := map[string]bool{}
	for _, ch := range deferred {
		if ch.Table == table {
			out[ch.Constraint.RefTable] = true
		}
	}
	return out
}

// orderDrops orders dropped tables so a referencing table is dropped before
// the table it references.
func orderDrops(drops []diff.Change, actual schema.Snapshot) []diff.Change {
	if len(drops) == 0 {
		return nil
	}
	sort.Slice(drops, func(i, j int) bool { return drops[i].Table < drops[j].Table })
	index := map[string]int{}
	for i, ch := range drops {
		index[ch.Table] = i
	}
	g := graph.New(len(drops))
	for i, ch := range drops {
		table, ok := actual.Tables[ch.Table]
		if !ok {
			continue
		}
		for _, fk := range table.ForeignKeys() {
			j, ok := index[fk.RefTable]
			if !ok || i == j {
				continue
			}
			g.Add(i, j) // referencing table dropped first
		}
	}
	order, ok := graph.TopSort(g)
	if !ok {
		// Cyclic references among dropped tables: the preceding constraint
		// drops have already detached them, so name order is safe.
		return drops
	}
	ordered := make([]diff.Change, len(drops))
	for pos, v := range order {
		ordered[pos] = drops[v]
	}
	return ordered
}

// selectKind returns the changes of one kind across all tables except those
// consumed by a rebuild, ordered by table then object name.
func selectKind(perTable map[string][]diff.Change, rebuild map[string]bool, kind diff.Kind) []diff.Change {
	var tables []string
	for table := range perTable {
		if !rebuild[table] {
			tables = append(tables, table)
		}
	}
	sort.Strings(tables)
	var out []diff.Change
	for _, table := range tables {
		for _, ch := range perTable[table] {
			if ch.Kind == kind {
				out = append(out, ch)
			}
		}
	}
	return out
}

func sortedRebuildTables(rebuild map[string]bool) []string {
	out := make([]string, 0, len(rebuild))
	for table := range rebuild {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

func sortedConstraintNames(table schema.Table) []string {
	names := make([]string, 0, len(table.Constraints))
	for name := range table.Constraints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedIndexes(table schema.Table) []schema.Index {
	names := make([]string, 0, len(table.Indexes))
	for name := range table.Indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]schema.Index, len(names))
	for i, name := range names {
		out[i] = table.Indexes[name]
	}
	return out
}
