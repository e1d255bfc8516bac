package provider

import (
	"context"
	"fmt"

	"schemasync/internal/schema"
)

// RegistryOptions tune the enrichment applied to every registered model.
type RegistryOptions struct {
	// DefaultNullable makes fields without an explicit nullability nullable.
	// When false they default to NOT NULL.
	DefaultNullable bool

	// IndexForeignKeys adds a plain index on every foreign key column.
	IndexForeignKeys bool

	// Timestamps adds created_at and updated_at to every model unless the
	// model opts out.
	Timestamps bool
}

// Registry collects models and realizes them into a snapshot.
type Registry struct {
	naming schema.Naming
	opts   RegistryOptions
	models []*Model
}

func NewRegistry(naming schema.Naming, opts RegistryOptions) *Registry {
	return &Registry{naming: naming, opts: opts}
}

func (r *Registry) Register(models ...*Model) *Registry {
	r.models = append(r.models, models...)
	return r
}

// DesiredSchema builds the snapshot: names normalized, surrogate keys and
// timestamp columns filled in, unique fields turned into constraints, and
// foreign keys resolved against the other registered models.
func (r *Registry) DesiredSchema(context.Context) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()
	tableFor := make(map[string]string, len(r.models))
	for _, m := range r.models {
		tableFor[m.name] = r.naming.TableName(m.name)
	}

	for _, m := range r.models {
		tbl, err := r.buildTable(m, tableFor)
		if err != nil {
			return snap, err
		}
		if _, dup := snap.Tables[tbl.Name]; dup {
			return snap, &schema.ModelError{Table: tbl.Name, Reason: "two models map to the same table name"}
		}
		snap.Tables[tbl.Name] = tbl
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

func (r *Registry) buildTable(m *Model, tableFor map[string]string) (schema.Table, error) {
	tableName := tableFor[m.name]
	tbl := schema.NewTable(tableName)
	tbl.Comment = m.comment

	fields := m.fields
	if r.opts.Timestamps && !m.noTimestamps {
		fields = append(fields, timestampFields()...)
	}

	var pkCols []string
	pos := 0
	for _, f := range fields {
		pos++
		colName := r.naming.ColumnName(f.name)
		if _, dup := tbl.Columns[colName]; dup {
			return tbl, &schema.ModelError{Table: tableName, Column: colName, Reason: "duplicate field"}
		}
		nullable := r.opts.DefaultNullable
		if f.nullable != nil {
			nullable = *f.nullable
		}
		if f.primary {
			nullable = false
		}
		tbl.Columns[colName] = schema.Column{
			Name:     colName,
			Type:     f.ftype,
			Nullable: nullable,
			Default:  f.def,
			Comment:  f.comment,
			Position: pos,
		}
		if f.primary {
			pkCols = append(pkCols, colName)
		}
		if f.unique {
			name := r.naming.ConstraintName("uq", tableName, colName)
			tbl.Constraints[name] = schema.Constraint{
				Name:    name,
				Kind:    schema.Unique,
				Columns: []string{colName},
			}
		}
		if f.refModel != "" {
			refTable, ok := tableFor[f.refModel]
			if !ok {
				return tbl, &schema.ModelError{
					Table:  tableName,
					Column: colName,
					Reason: fmt.Sprintf("references unregistered model %q", f.refModel),
				}
			}
			name := r.naming.ConstraintName("fk", tableName, colName)
			tbl.Constraints[name] = schema.Constraint{
				Name:       name,
				Kind:       schema.ForeignKey,
				Columns:    []string{colName},
				RefTable:   refTable,
				RefColumns: []string{r.naming.ColumnName(f.refField)},
				OnDelete:   f.onDelete,
			}
			if r.opts.IndexForeignKeys || f.indexed {
				f.indexed = true
			}
		}
		if f.indexed {
			name := r.naming.IndexName(tableName, []string{colName})
			tbl.Indexes[name] = schema.Index{Name: name, Columns: []string{colName}}
		}
	}

	if len(pkCols) > 0 {
		name := r.naming.ConstraintName("pk", tableName, "")
		tbl.Constraints[name] = schema.Constraint{
			Name:    name,
			Kind:    schema.PrimaryKey,
			Columns: pkCols,
		}
	}

	for _, mi := range m.indexes {
		cols := make([]string, len(mi.columns))
		for i, c := range mi.columns {
			cols[i] = r.naming.ColumnName(c)
		}
		if mi.unique {
			name := r.naming.ConstraintName("uq", tableName, cols...)
			tbl.Constraints[name] = schema.Constraint{
				Name:    name,
				Kind:    schema.Unique,
				Columns: cols,
			}
			continue
		}
		name := r.naming.IndexName(tableName, cols)
		tbl.Indexes[name] = schema.Index{Name: name, Columns: cols}
	}

	for _, ck := range m.checks {
		name := r.naming.ConstraintName("ck", tableName, ck.name)
		tbl.Constraints[name] = schema.Constraint{
			Name:       name,
			Kind:       schema.Check,
			Expression: ck.expression,
		}
	}
	return tbl, nil
}

func timestampFields() []*Field {
	notNull := false
	now := "CURRENT_TIMESTAMP"
	return []*Field{
		{name: "created_at", ftype: schema.FieldType{Kind: schema.KindTimestampTZ}, nullable: &notNull, def: &now},
		{name: "updated_at", ftype: schema.FieldType{Kind: schema.KindTimestampTZ}, nullable: &notNull, def: &now},
	}
}
