package provider

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"schemasync/internal/schema"
)

// File loads the desired schema from a YAML document. It exists for setups
// that keep the schema next to the service config instead of in code.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

type fileDoc struct {
	Tables map[string]fileTable `yaml:"tables"`
}

type fileTable struct {
	Comment     string                    `yaml:"comment"`
	Columns     []fileColumn              `yaml:"columns"`
	Indexes     []fileIndex               `yaml:"indexes"`
	Constraints map[string]fileConstraint `yaml:"constraints"`
}

type fileColumn struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"`
	Length    int     `yaml:"length"`
	Precision int     `yaml:"precision"`
	Scale     int     `yaml:"scale"`
	Override  string  `yaml:"override"`
	Nullable  bool    `yaml:"nullable"`
	Default   *string `yaml:"default"`
	Comment   string  `yaml:"comment"`
}

type fileIndex struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

type fileConstraint struct {
	Kind       string   `yaml:"kind"` // primary_key, unique, foreign_key, check
	Columns    []string `yaml:"columns"`
	RefTable   string   `yaml:"ref_table"`
	RefColumns []string `yaml:"ref_columns"`
	OnDelete   string   `yaml:"on_delete"`
	Expression string   `yaml:"expression"`
}

func (f *File) DesiredSchema(context.Context) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return snap, fmt.Errorf("read schema file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return snap, fmt.Errorf("parse schema file %s: %w", f.path, err)
	}

	for name, ft := range doc.Tables {
		tbl := schema.NewTable(name)
		tbl.Comment = ft.Comment
		for i, fc := range ft.Columns {
			kind, err := parseKind(fc.Type)
			if err != nil {
				return snap, &schema.ModelError{Table: name, Column: fc.Name, Reason: err.Error()}
			}
			tbl.Columns[fc.Name] = schema.Column{
				Name: fc.Name,
				Type: schema.FieldType{
					Kind:      kind,
					Length:    fc.Length,
					Precision: fc.Precision,
					Scale:     fc.Scale,
					Override:  fc.Override,
				},
				Nullable: fc.Nullable,
				Default:  fc.Default,
				Comment:  fc.Comment,
				Position: i + 1,
			}
		}
		for _, fi := range ft.Indexes {
			idxName := fi.Name
			if idxName == "" {
				idxName = schema.DefaultNaming().IndexName(name, fi.Columns)
			}
			tbl.Indexes[idxName] = schema.Index{Name: idxName, Columns: fi.Columns, Unique: fi.Unique}
		}
		for cname, fcon := range ft.Constraints {
			kind, err := parseConstraintKind(fcon.Kind)
			if err != nil {
				return snap, &schema.ModelError{Table: name, Reason: err.Error()}
			}
			tbl.Constraints[cname] = schema.Constraint{
				Name:       cname,
				Kind:       kind,
				Columns:    fcon.Columns,
				RefTable:   fcon.RefTable,
				RefColumns: fcon.RefColumns,
				OnDelete:   fcon.OnDelete,
				Expression: fcon.Expression,
			}
		}
		snap.Tables[name] = tbl
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

func parseKind(s string) (schema.FieldKind, error) {
	for _, k := range schema.AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown field type %q", s)
}

func parseConstraintKind(s string) (schema.ConstraintKind, error) {
	switch s {
	case "primary_key":
		return schema.PrimaryKey, nil
	case "unique":
		return schema.Unique, nil
	case "foreign_key":
		return schema.ForeignKey, nil
	case "check":
		return schema.Check, nil
	}
	return "", fmt.Errorf("unknown constraint kind %q", s)
}
