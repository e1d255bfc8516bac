package plan

import (
	"fmt"
	"strings"

	"schemasync/internal/dialect"
	"schemasync/internal/diff"
	"schemasync/internal/schema"
)

// renderer turns individual changes into dialect-correct SQL. It never makes
// ordering decisions; those belong to Build.
type renderer struct {
	d         dialect.Dialect
	caps      dialect.Capabilities
	overrides map[string]string
}

func (r *renderer) quote(ident string) string {
	return dialect.Quote(r.d, ident)
}

func (r *renderer) quoteAll(idents []string) string {
	return strings.Join(dialect.QuoteAll(r.d, idents), ", ")
}

func (r *renderer) columnType(col schema.Column) (string, error) {
	return dialect.MapType(col.Type, r.d, r.overrides)
}

// columnDef renders "name TYPE [DEFAULT ...] [NOT] NULL [COMMENT ...]".
func (r *renderer) columnDef(col schema.Column) (string, error) {
	dbType, err := r.columnType(col)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(r.quote(col.Name))
	b.WriteByte(' ')
	b.WriteString(dbType)
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(*col.Default)
	}
	if col.Nullable {
		if r.d != dialect.SQLite {
			b.WriteString(" NULL")
		}
	} else {
		b.WriteString(" NOT NULL")
	}
	if col.Comment != "" && r.d == dialect.MySQL {
		b.WriteString(" COMMENT ")
		b.WriteString(dialect.QuoteLiteral(col.Comment))
	}
	return b.String(), nil
}

// createTable renders the CREATE TABLE statement plus trailing statements
// (indexes, postgres comments). When skipFKs is set, foreign keys naming the
// given tables are left out for a later AddConstraint pass.
func (r *renderer) createTable(table schema.Table, skipFKTargets map[string]bool) ([]Statement, error) {
	var defs []string
	for _, name := range table.ColumnNames() {
		def, err := r.columnDef(table.Columns[name])
		if err != nil {
			return nil, err
		}
		defs = append(defs, "  "+def)
	}

	if pk := table.PrimaryKeyColumns(); pk != nil {
		defs = append(defs, fmt.Sprintf("  PRIMARY KEY (%s)", r.quoteAll(pk)))
	}
	for _, name := range sortedConstraintNames(table) {
		con := table.Constraints[name]
		switch con.Kind {
		case schema.PrimaryKey:
			// rendered above
		case schema.Unique:
			defs = append(defs, fmt.Sprintf("  CONSTRAINT %s UNIQUE (%s)", r.quote(con.Name), r.quoteAll(con.Columns)))
		case schema.Check:
			defs = append(defs, fmt.Sprintf("  CONSTRAINT %s CHECK (%s)", r.quote(con.Name), con.Expression))
		case schema.ForeignKey:
			if skipFKTargets[con.RefTable] && con.RefTable != table.Name {
				continue
			}
			defs = append(defs, "  "+r.foreignKeyDef(con))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", r.quote(table.Name))
	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n)")
	if r.d == dialect.MySQL {
		b.WriteString(" DEFAULT CHARACTER SET=utf8mb4 COLLATE=utf8mb4_unicode_ci")
		if table.Comment != "" {
			b.WriteString(" COMMENT=")
			b.WriteString(dialect.QuoteLiteral(table.Comment))
		}
	}

	stmts := []Statement{{SQL: b.String(), Reversible: true}}

	if r.d == dialect.Postgres && table.Comment != "" {
		stmts = append(stmts, Statement{
			SQL:        fmt.Sprintf("COMMENT ON TABLE %s IS %s", r.quote(table.Name), dialect.QuoteLiteral(table.Comment)),
			Reversible: true,
		})
	}
	if r.d == dialect.Postgres {
		for _, name := range table.ColumnNames() {
			col := table.Columns[name]
			if col.Comment == "" {
				continue
			}
			stmts = append(stmts, Statement{
				SQL:        fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", r.quote(table.Name), r.quote(col.Name), dialect.QuoteLiteral(col.Comment)),
				Reversible: true,
			})
		}
	}

	for _, idx := range sortedIndexes(table) {
		stmts = append(stmts, Statement{SQL: r.createIndex(table.Name, idx), Reversible: true})
	}
	return stmts, nil
}

func (r *renderer) foreignKeyDef(con schema.Constraint) string {
	def := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		r.quote(con.Name), r.quoteAll(con.Columns), r.quote(con.RefTable), r.quoteAll(con.RefColumns))
	if con.OnDelete != "" {
		def += " ON DELETE " + con.OnDelete
	}
	return def
}

func (r *renderer) createIndex(table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, r.quote(idx.Name), r.quote(table), r.quoteAll(idx.Columns))
}

func (r *renderer) dropIndex(table, name string) string {
	if r.d == dialect.MySQL {
		return fmt.Sprintf("DROP INDEX %s ON %s", r.quote(name), r.quote(table))
	}
	return fmt.Sprintf("DROP INDEX %s", r.quote(name))
}

func (r *renderer) dropTable(name string) string {
	return fmt.Sprintf("DROP TABLE %s", r.quote(name))
}

func (r *renderer) renameTable(from, to string) string {
	if r.d == dialect.MySQL {
		return fmt.Sprintf("RENAME TABLE %s TO %s", r.quote(from), r.quote(to))
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", r.quote(from), r.quote(to))
}

func (r *renderer) addColumn(table string, col schema.Column) ([]Statement, error) {
	def, err := r.columnDef(col)
	if err != nil {
		return nil, err
	}
	stmts := []Statement{{
		SQL:        fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", r.quote(table), def),
		Reversible: true,
	}}
	if r.d == dialect.Postgres && col.Comment != "" {
		stmts = append(stmts, Statement{
			SQL:        fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", r.quote(table), r.quote(col.Name), dialect.QuoteLiteral(col.Comment)),
			Reversible: true,
		})
	}
	return stmts, nil
}

func (r *renderer) dropColumn(table, column string) Statement {
	return Statement{
		SQL:        fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", r.quote(table), r.quote(column)),
		Reversible: false,
	}
}

func (r *renderer) renameColumn(table, from, to string) Statement {
	return Statement{
		SQL:        fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", r.quote(table), r.quote(from), r.quote(to)),
		Reversible: true,
	}
}

// alterColumn renders one in-place alteration. MySQL re-states the whole
// column via MODIFY; postgres alters the single attribute.
func (r *renderer) alterColumn(ch diff.Change) ([]Statement, error) {
	switch r.d {
	case dialect.MySQL:
		def, err := r.columnDef(*ch.Column)
		if err != nil {
			return nil, err
		}
		return []Statement{{
			SQL:        fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", r.quote(ch.Table), def),
			Reversible: ch.Kind != diff.AlterColumnType,
		}}, nil
	case dialect.Postgres:
		return r.alterColumnPostgres(ch)
	default:
		return nil, &UnsupportedOperationError{Dialect: r.d, Change: ch.String(), Reason: "no in-place column alteration"}
	}
}

func (r *renderer) alterColumnPostgres(ch diff.Change) ([]Statement, error) {
	table, col := r.quote(ch.Table), r.quote(ch.Column.Name)
	switch ch.Kind {
	case diff.AlterColumnType:
		dbType, err := r.columnType(*ch.Column)
		if err != nil {
			return nil, err
		}
		return []Statement{{
			SQL:        fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", table, col, dbType, col, dbType),
			Reversible: false,
		}}, nil
	case diff.AlterColumnNullability:
		action := "SET NOT NULL"
		if ch.Column.Nullable {
			action = "DROP NOT NULL"
		}
		return []Statement{{
			SQL:        fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", table, col, action),
			Reversible: true,
		}}, nil
	case diff.AlterColumnDefault:
		if ch.Column.Default == nil {
			return []Statement{{
				SQL:        fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col),
				Reversible: true,
			}}, nil
		}
		return []Statement{{
			SQL:        fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, *ch.Column.Default),
			Reversible: true,
		}}, nil
	default:
		return nil, &UnsupportedOperationError{Dialect: r.d, Change: ch.String(), Reason: "unknown alteration"}
	}
}

func (r *renderer) addConstraint(table string, con schema.Constraint) (Statement, error) {
	var def string
	switch con.Kind {
	case schema.ForeignKey:
		def = r.foreignKeyDef(con)
	case schema.Unique:
		def = fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", r.quote(con.Name), r.quoteAll(con.Columns))
	case schema.Check:
		def = fmt.Sprintf("CONSTRAINT %s CHECK (%s)", r.quote(con.Name), con.Expression)
	case schema.PrimaryKey:
		def = fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", r.quote(con.Name), r.quoteAll(con.Columns))
	default:
		return Statement{}, &UnsupportedOperationError{Dialect: r.d, Change: string(con.Kind), Reason: "unknown constraint kind"}
	}
	return Statement{
		SQL:        fmt.Sprintf("ALTER TABLE %s ADD %s", r.quote(table), def),
		Reversible: true,
	}, nil
}

func (r *renderer) dropConstraint(table, name string, kind schema.ConstraintKind) Statement {
	if r.d == dialect.MySQL && kind == schema.ForeignKey {
		return Statement{
			SQL:        fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", r.quote(table), r.quote(name)),
			Reversible: true,
		}
	}
	return Statement{
		SQL:        fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", r.quote(table), r.quote(name)),
		Reversible: true,
	}
}
