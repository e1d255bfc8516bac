package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"schemasync/internal/schema"
)

type sqliteReader struct {
	db      *sql.DB
	ignored map[string]bool
}

func (r *sqliteReader) Snapshot(ctx context.Context) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()
	names, err := r.tableNames(ctx)
	if err != nil {
		return snap, err
	}
	for _, name := range names {
		tbl := schema.NewTable(name)
		if err := r.fillColumns(ctx, &tbl); err != nil {
			return snap, err
		}
		if err := r.fillIndexes(ctx, &tbl); err != nil {
			return snap, err
		}
		if err := r.fillForeignKeys(ctx, &tbl); err != nil {
			return snap, err
		}
		snap.Tables[name] = tbl
	}
	return snap, nil
}

func (r *sqliteReader) tableNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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

func (r *sqliteReader) fillColumns(ctx context.Context, tbl *schema.Table) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, tbl.Name))
	if err != nil {
		return fmt.Errorf("table_info %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	var pkCols []struct {
		name string
		rank int
	}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			def     sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pk); err != nil {
			return err
		}
		tbl.Columns[name] = schema.Column{
			Name:     name,
			Type:     kindFromNative(typ),
			Nullable: notNull == 0,
			Default:  normalizeDefault(def),
			Position: cid + 1,
		}
		if pk > 0 {
			pkCols = append(pkCols, struct {
				name string
				rank int
			}{name, pk})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pkCols) > 0 {
		sort.Slice(pkCols, func(i, j int) bool { return pkCols[i].rank < pkCols[j].rank })
		cols := make([]string, len(pkCols))
		for i, pc := range pkCols {
			cols[i] = pc.name
		}
		name := "pk_" + tbl.Name
		tbl.Constraints[name] = schema.Constraint{
			Name:    name,
			Kind:    schema.PrimaryKey,
			Columns: cols,
		}
	}
	return nil
}

func (r *sqliteReader) fillIndexes(ctx context.Context, tbl *schema.Table) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%q)`, tbl.Name))
	if err != nil {
		return fmt.Errorf("index_list %s: %w", tbl.Name, err)
	}
	type entry struct {
		name   string
		unique bool
		origin string
	}
	var entries []entry
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, entry{name, unique == 1, origin})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, e := range entries {
		// origin "pk" indexes back the rowid primary key, already covered.
		if e.origin == "pk" || strings.HasPrefix(e.name, "sqlite_autoindex_") && e.origin != "u" {
			continue
		}
		cols, err := r.indexColumns(ctx, e.name)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			continue
		}
		if e.origin == "u" {
			// unique table constraint, surfaced as an autoindex
			name := "uq_" + tbl.Name + "_" + strings.Join(cols, "_")
			tbl.Constraints[name] = schema.Constraint{
				Name:    name,
				Kind:    schema.Unique,
				Columns: cols,
			}
			continue
		}
		tbl.Indexes[e.name] = schema.Index{Name: e.name, Columns: cols, Unique: e.unique}
	}
	return nil
}

func (r *sqliteReader) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_info(%q)`, index))
	if err != nil {
		return nil, fmt.Errorf("index_info %s: %w", index, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno int
			cid   int
			name  sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func (r *sqliteReader) fillForeignKeys(ctx context.Context, tbl *schema.Table) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, tbl.Name))
	if err != nil {
		return fmt.Errorf("foreign_key_list %s: %w", tbl.Name, err)
	}
	defer rows.Close()

	type fkRow struct {
		id       int
		from, to string
		refTable string
		onDelete string
	}
	byID := make(map[int][]fkRow)
	var ids []int
	for rows.Next() {
		var (
			fr       fkRow
			seq      int
			onUpdate string
			match    string
		)
		if err := rows.Scan(&fr.id, &seq, &fr.refTable, &fr.from, &fr.to, &onUpdate, &fr.onDelete, &match); err != nil {
			return err
		}
		if _, seen := byID[fr.id]; !seen {
			ids = append(ids, fr.id)
		}
		byID[fr.id] = append(byID[fr.id], fr)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	sort.Ints(ids)

	for _, id := range ids {
		group := byID[id]
		con := schema.Constraint{
			Kind:     schema.ForeignKey,
			RefTable: group[0].refTable,
		}
		if group[0].onDelete != "" && group[0].onDelete != "NO ACTION" {
			con.OnDelete = group[0].onDelete
		}
		for _, fr := range group {
			con.Columns = append(con.Columns, fr.from)
			con.RefColumns = append(con.RefColumns, fr.to)
		}
		// sqlite does not store FK names, synthesize the conventional one
		con.Name = "fk_" + tbl.Name + "_" + strings.Join(con.Columns, "_")
		tbl.Constraints[con.Name] = con
	}
	return nil
}
