package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"schemasync/internal/schema"
)

type postgresReader struct {
	db      *sql.DB
	schema  string
	ignored map[string]bool
}

func (r *postgresReader) Snapshot(ctx context.Context) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()

	names, err := r.tableNames(ctx)
	if err != nil {
		return snap, err
	}
	for _, name := range names {
		snap.Tables[name] = schema.NewTable(name)
	}

	// The three catalog scans are independent reads, run them together.
	var (
		cols  []pgColumn
		idxs  []pgIndexColumn
		cons  []pgConstraint
		grp, gctx = errgroup.WithContext(ctx)
	)
	grp.Go(func() (err error) { cols, err = r.columns(gctx); return })
	grp.Go(func() (err error) { idxs, err = r.indexColumns(gctx); return })
	grp.Go(func() (err error) { cons, err = r.constraints(gctx); return })
	if err := grp.Wait(); err != nil {
		return snap, err
	}

	for _, c := range cols {
		tbl, ok := snap.Tables[c.table]
		if !ok {
			continue
		}
		tbl.Columns[c.name] = schema.Column{
			Name:     c.name,
			Type:     kindFromNative(c.dataType),
			Nullable: c.nullable,
			Default:  normalizeDefault(c.def),
			Position: c.position,
		}
	}
	for _, ic := range idxs {
		tbl, ok := snap.Tables[ic.table]
		if !ok {
			continue
		}
		idx, ok := tbl.Indexes[ic.index]
		if !ok {
			idx = schema.Index{Name: ic.index, Unique: ic.unique}
		}
		idx.Columns = append(idx.Columns, ic.column)
		tbl.Indexes[ic.index] = idx
	}
	for _, c := range cons {
		tbl, ok := snap.Tables[c.table]
		if !ok {
			continue
		}
		con, err := c.constraint()
		if err != nil {
			return snap, err
		}
		tbl.Constraints[con.Name] = con
	}
	return snap, nil
}

func (r *postgresReader) tableNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !r.ignored[name] {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

type pgColumn struct {
	table    string
	name     string
	dataType string
	nullable bool
	def      sql.NullString
	position int
}

func (r *postgresReader) columns(ctx context.Context) ([]pgColumn, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT c.table_name, c.column_name,
			CASE WHEN c.character_maximum_length IS NOT NULL
				THEN c.data_type || '(' || c.character_maximum_length || ')'
			     WHEN c.data_type IN ('numeric', 'decimal') AND c.numeric_precision IS NOT NULL
				THEN c.data_type || '(' || c.numeric_precision || ',' || COALESCE(c.numeric_scale, 0) || ')'
			     ELSE c.data_type END,
			c.is_nullable = 'YES', c.column_default, c.ordinal_position
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	defer rows.Close()

	var out []pgColumn
	for rows.Next() {
		var c pgColumn
		if err := rows.Scan(&c.table, &c.name, &c.dataType, &c.nullable, &c.def, &c.position); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type pgIndexColumn struct {
	table  string
	index  string
	column string
	unique bool
}

func (r *postgresReader) indexColumns(ctx context.Context) ([]pgIndexColumn, error) {
	// Constraint-backed indexes are reported through pg_constraint instead,
	// hence the NOT EXISTS filter.
	rows, err := r.db.QueryContext(ctx, `SELECT t.relname, i.relname, a.attname, ix.indisunique
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1
			AND NOT ix.indisprimary
			AND NOT EXISTS (SELECT 1 FROM pg_constraint c WHERE c.conindid = ix.indexrelid)
		ORDER BY t.relname, i.relname, array_position(ix.indkey, a.attnum)`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("read indexes: %w", err)
	}
	defer rows.Close()

	var out []pgIndexColumn
	for rows.Next() {
		var ic pgIndexColumn
		if err := rows.Scan(&ic.table, &ic.index, &ic.column, &ic.unique); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

type pgConstraint struct {
	table    string
	name     string
	contype  string
	columns  string
	refTable string
	refCols  string
	onDelete string
	def      string
}

func (r *postgresReader) constraints(ctx context.Context) ([]pgConstraint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT t.relname, c.conname, c.contype::text,
			COALESCE((SELECT string_agg(a.attname, ',' ORDER BY k.ord)
				FROM unnest(c.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum), ''),
			COALESCE(rt.relname, ''),
			COALESCE((SELECT string_agg(a.attname, ',' ORDER BY k.ord)
				FROM unnest(c.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.confrelid AND a.attnum = k.attnum), ''),
			CASE c.confdeltype
				WHEN 'c' THEN 'CASCADE'
				WHEN 'n' THEN 'SET NULL'
				WHEN 'd' THEN 'SET DEFAULT'
				WHEN 'r' THEN 'RESTRICT'
				ELSE '' END,
			pg_get_constraintdef(c.oid)
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		LEFT JOIN pg_class rt ON rt.oid = c.confrelid
		WHERE n.nspname = $1 AND c.contype IN ('p', 'u', 'f', 'c')
		ORDER BY t.relname, c.conname`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("read constraints: %w", err)
	}
	defer rows.Close()

	var out []pgConstraint
	for rows.Next() {
		var c pgConstraint
		if err := rows.Scan(&c.table, &c.name, &c.contype, &c.columns,
			&c.refTable, &c.refCols, &c.onDelete, &c.def); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (c pgConstraint) constraint() (schema.Constraint, error) {
	con := schema.Constraint{Name: c.name, Columns: splitList(c.columns)}
	switch c.contype {
	case "p":
		con.Kind = schema.PrimaryKey
	case "u":
		con.Kind = schema.Unique
	case "f":
		con.Kind = schema.ForeignKey
		con.RefTable = c.refTable
		con.RefColumns = splitList(c.refCols)
		con.OnDelete = c.onDelete
	case "c":
		con.Kind = schema.Check
		con.Expression = checkExpression(c.def)
	default:
		return con, fmt.Errorf("unexpected constraint type %q for %s", c.contype, c.name)
	}
	return con, nil
}

// checkExpression extracts the bare expression from "CHECK ((x > 0))".
func checkExpression(def string) string {
	def = strings.TrimSpace(def)
	upper := strings.ToUpper(def)
	if strings.HasPrefix(upper, "CHECK") {
		def = strings.TrimSpace(def[len("CHECK"):])
	}
	for len(def) > 1 && def[0] == '(' && def[len(def)-1] == ')' {
		def = strings.TrimSpace(def[1 : len(def)-1])
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
