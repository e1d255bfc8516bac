package introspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"schemasync/internal/schema"
)

type mysqlReader struct {
	db      *sql.DB
	schema  string
	ignored map[string]bool
}

// namespace resolves the schema to read, defaulting to the connection's
// current database.
func (r *mysqlReader) namespace(ctx context.Context) (string, error) {
	if r.schema != "" {
		return r.schema, nil
	}
	var db sql.NullString
	if err := r.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&db); err != nil {
		return "", fmt.Errorf("resolve current database: %w", err)
	}
	if !db.Valid || db.String == "" {
		return "", fmt.Errorf("no database selected and none configured")
	}
	return db.String, nil
}

func (r *mysqlReader) Snapshot(ctx context.Context) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()
	ns, err := r.namespace(ctx)
	if err != nil {
		return snap, err
	}

	grp, gctx := errgroup.WithContext(ctx)
	var (
		tables []string
		cols   []myColumn
		idxs   []myIndexColumn
		fks    []myForeignKey
		checks []myCheck
	)
	grp.Go(func() (err error) { tables, err = r.tableNames(gctx, ns); return })
	grp.Go(func() (err error) { cols, err = r.columns(gctx, ns); return })
	grp.Go(func() (err error) { idxs, err = r.indexColumns(gctx, ns); return })
	grp.Go(func() (err error) { fks, err = r.foreignKeys(gctx, ns); return })
	grp.Go(func() (err error) { checks, err = r.checkConstraints(gctx, ns); return })
	if err := grp.Wait(); err != nil {
		return snap, err
	}

	for _, name := range tables {
		snap.Tables[name] = schema.NewTable(name)
	}
	for _, c := range cols {
		tbl, ok := snap.Tables[c.table]
		if !ok {
			continue
		}
		tbl.Columns[c.name] = schema.Column{
			Name:     c.name,
			Type:     kindFromNative(c.columnType),
			Nullable: c.nullable,
			Default:  normalizeDefault(c.def),
			Comment:  c.comment,
			Position: c.position,
		}
	}

	fkNames := make(map[string]map[string]bool)
	for _, fk := range fks {
		tbl, ok := snap.Tables[fk.table]
		if !ok {
			continue
		}
		con, ok := tbl.Constraints[fk.name]
		if !ok {
			con = schema.Constraint{
				Name:     fk.name,
				Kind:     schema.ForeignKey,
				RefTable: fk.refTable,
				OnDelete: fk.onDelete,
			}
		}
		con.Columns = append(con.Columns, fk.column)
		con.RefColumns = append(con.RefColumns, fk.refColumn)
		tbl.Constraints[fk.name] = con
		if fkNames[fk.table] == nil {
			fkNames[fk.table] = make(map[string]bool)
		}
		fkNames[fk.table][fk.name] = true
	}

	for _, ic := range idxs {
		tbl, ok := snap.Tables[ic.table]
		if !ok {
			continue
		}
		// mysql lists the FK backing index under the constraint name.
		if fkNames[ic.table][ic.index] {
			continue
		}
		if ic.index == "PRIMARY" {
			con, ok := tbl.Constraints["PRIMARY"]
			if !ok {
				con = schema.Constraint{Name: "PRIMARY", Kind: schema.PrimaryKey}
			}
			con.Columns = append(con.Columns, ic.column)
			tbl.Constraints["PRIMARY"] = con
			continue
		}
		if ic.unique {
			con, ok := tbl.Constraints[ic.index]
			if !ok {
				con = schema.Constraint{Name: ic.index, Kind: schema.Unique}
			}
			con.Columns = append(con.Columns, ic.column)
			tbl.Constraints[ic.index] = con
			continue
		}
		idx, ok := tbl.Indexes[ic.index]
		if !ok {
			idx = schema.Index{Name: ic.index}
		}
		idx.Columns = append(idx.Columns, ic.column)
		tbl.Indexes[ic.index] = idx
	}

	for _, ck := range checks {
		tbl, ok := snap.Tables[ck.table]
		if !ok {
			continue
		}
		tbl.Constraints[ck.name] = schema.Constraint{
			Name:       ck.name,
			Kind:       schema.Check,
			Expression: checkExpression(ck.clause),
		}
	}
	return snap, nil
}

func (r *mysqlReader) tableNames(ctx context.Context, ns string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`, ns)
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

type myColumn struct {
	table      string
	name       string
	columnType string
	nullable   bool
	def        sql.NullString
	comment    string
	position   int
}

func (r *mysqlReader) columns(ctx context.Context, ns string) ([]myColumn, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT TABLE_NAME, COLUMN_NAME, COLUMN_TYPE,
			IS_NULLABLE = 'YES', COLUMN_DEFAULT, COLUMN_COMMENT, ORDINAL_POSITION
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION`, ns)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	defer rows.Close()

	var out []myColumn
	for rows.Next() {
		var c myColumn
		if err := rows.Scan(&c.table, &c.name, &c.columnType, &c.nullable, &c.def, &c.comment, &c.position); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type myIndexColumn struct {
	table  string
	index  string
	column string
	unique bool
}

func (r *mysqlReader) indexColumns(ctx context.Context, ns string) ([]myIndexColumn, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT TABLE_NAME, INDEX_NAME, COLUMN_NAME, NON_UNIQUE = 0
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX`, ns)
	if err != nil {
		return nil, fmt.Errorf("read indexes: %w", err)
	}
	defer rows.Close()

	var out []myIndexColumn
	for rows.Next() {
		var ic myIndexColumn
		if err := rows.Scan(&ic.table, &ic.index, &ic.column, &ic.unique); err != nil {
			return nil, err
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

type myForeignKey struct {
	table     string
	name      string
	column    string
	refTable  string
	refColumn string
	onDelete  string
}

func (r *mysqlReader) foreignKeys(ctx context.Context, ns string) ([]myForeignKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT k.TABLE_NAME, k.CONSTRAINT_NAME, k.COLUMN_NAME,
			k.REFERENCED_TABLE_NAME, k.REFERENCED_COLUMN_NAME, rc.DELETE_RULE
		FROM information_schema.KEY_COLUMN_USAGE k
		JOIN information_schema.REFERENTIAL_CONSTRAINTS rc
			ON rc.CONSTRAINT_SCHEMA = k.CONSTRAINT_SCHEMA AND rc.CONSTRAINT_NAME = k.CONSTRAINT_NAME
		WHERE k.TABLE_SCHEMA = ? AND k.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY k.TABLE_NAME, k.CONSTRAINT_NAME, k.ORDINAL_POSITION`, ns)
	if err != nil {
		return nil, fmt.Errorf("read foreign keys: %w", err)
	}
	defer rows.Close()

	var out []myForeignKey
	for rows.Next() {
		var fk myForeignKey
		if err := rows.Scan(&fk.table, &fk.name, &fk.column, &fk.refTable, &fk.refColumn, &fk.onDelete); err != nil {
			return nil, err
		}
		if fk.onDelete == "NO ACTION" {
			fk.onDelete = ""
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

type myCheck struct {
	table  string
	name   string
	clause string
}

func (r *mysqlReader) checkConstraints(ctx context.Context, ns string) ([]myCheck, error) {
	// CHECK_CONSTRAINTS only exists on 8.0+; older servers simply have none.
	rows, err := r.db.QueryContext(ctx, `SELECT tc.TABLE_NAME, cc.CONSTRAINT_NAME, cc.CHECK_CLAUSE
		FROM information_schema.CHECK_CONSTRAINTS cc
		JOIN information_schema.TABLE_CONSTRAINTS tc
			ON tc.CONSTRAINT_SCHEMA = cc.CONSTRAINT_SCHEMA AND tc.CONSTRAINT_NAME = cc.CONSTRAINT_NAME
		WHERE cc.CONSTRAINT_SCHEMA = ?
		ORDER BY tc.TABLE_NAME, cc.CONSTRAINT_NAME`, ns)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read check constraints: %w", err)
	}
	defer rows.Close()

	var out []myCheck
	for rows.Next() {
		var ck myCheck
		if err := rows.Scan(&ck.table, &ck.name, &ck.clause); err != nil {
			return nil, err
		}
		out = append(out, ck)
	}
	return out, rows.Err()
}

// isMissingTable matches the server errors for a table that does not exist,
// which is how pre-8.0 servers answer a CHECK_CONSTRAINTS query. Anything
// else, cancellations included, propagates.
func isMissingTable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	// 1109 unknown table in information_schema, 1146 table doesn't exist
	return myErr.Number == 1109 || myErr.Number == 1146
}
