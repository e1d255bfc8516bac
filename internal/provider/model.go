package provider

import (
	"schemasync/internal/schema"
)

// Model declares one table in application terms. Names are given in the
// application's casing; the registry normalizes them when building the
// snapshot.
type Model struct {
	name         string
	comment      string
	fields       []*Field
	indexes      []modelIndex
	checks       []modelCheck
	noTimestamps bool
}

type modelIndex struct {
	columns []string
	unique  bool
}

type modelCheck struct {
	name       string
	expression string
}

// NewModel starts a model declaration. The name is singular, the registry's
// naming rules decide the final table name.
func NewModel(name string) *Model {
	return &Model{name: name}
}

func (m *Model) Comment(text string) *Model {
	m.comment = text
	return m
}

// WithoutTimestamps opts this model out of the created_at/updated_at pair.
func (m *Model) WithoutTimestamps() *Model {
	m.noTimestamps = true
	return m
}

// Field adds a column and returns it for chained refinement.
func (m *Model) Field(name string, kind schema.FieldKind) *Field {
	f := &Field{name: name, ftype: schema.FieldType{Kind: kind}}
	m.fields = append(m.fields, f)
	return f
}

// ID adds the conventional surrogate key: a NOT NULL bigint primary key.
func (m *Model) ID() *Field {
	return m.Field("id", schema.KindBigInt).PrimaryKey()
}

// Index declares a plain index over the given fields.
func (m *Model) Index(columns ...string) *Model {
	m.indexes = append(m.indexes, modelIndex{columns: columns})
	return m
}

// UniqueIndex declares a unique constraint over the given fields.
func (m *Model) UniqueIndex(columns ...string) *Model {
	m.indexes = append(m.indexes, modelIndex{columns: columns, unique: true})
	return m
}

// Check declares a table-level check constraint.
func (m *Model) Check(name, expression string) *Model {
	m.checks = append(m.checks, modelCheck{name: name, expression: expression})
	return m
}

// Field refines one declared column.
type Field struct {
	name     string
	ftype    schema.FieldType
	comment  string
	nullable *bool
	def      *string
	primary  bool
	unique   bool
	indexed  bool
	refModel string
	refField string
	onDelete string
}

func (f *Field) Nullable() *Field {
	v := true
	f.nullable = &v
	return f
}

func (f *Field) NotNull() *Field {
	v := false
	f.nullable = &v
	return f
}

// Default sets the default expression as it should appear in DDL. String
// literals need their own quotes: Default("'pending'").
func (f *Field) Default(expr string) *Field {
	f.def = &expr
	return f
}

func (f *Field) Length(n int) *Field {
	f.ftype.Length = n
	return f
}

func (f *Field) Precision(precision, scale int) *Field {
	f.ftype.Precision = precision
	f.ftype.Scale = scale
	return f
}

// Override pins the rendered column type verbatim, bypassing kind mapping.
func (f *Field) Override(nativeType string) *Field {
	f.ftype.Override = nativeType
	return f
}

func (f *Field) Comment(text string) *Field {
	f.comment = text
	return f
}

func (f *Field) PrimaryKey() *Field {
	f.primary = true
	return f
}

func (f *Field) Unique() *Field {
	f.unique = true
	return f
}

func (f *Field) Indexed() *Field {
	f.indexed = true
	return f
}

// References points this field at another model's field, producing a foreign
// key. The target field defaults to "id".
func (f *Field) References(model string, field ...string) *Field {
	f.refModel = model
	f.refField = "id"
	if len(field) > 0 {
		f.refField = field[0]
	}
	return f
}

// OnDelete sets the FK delete rule, e.g. "CASCADE" or "SET NULL".
func (f *Field) OnDelete(rule string) *Field {
	f.onDelete = rule
	return f
}
