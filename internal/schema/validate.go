package schema

import "fmt"

// ModelError reports a malformed desired or actual schema. Diffing never
// proceeds on an invalid snapshot.
type ModelError struct {
	Table  string
	Column string
	Reason string
}

func (e *ModelError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("invalid schema: table %s column %s: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("invalid schema: table %s: %s", e.Table, e.Reason)
}

// Validate checks snapshot invariants: object names are consistent with their
// map keys, constraint and index columns exist, and every foreign key resolves
// to an existing table and column set within the same snapshot.
func (s Snapshot) Validate() error {
	for _, name := range s.TableNames() {
		table := s.Tables[name]
		if table.Name != name {
			return &ModelError{Table: name, Reason: fmt.Sprintf("table keyed %q but named %q", name, table.Name)}
		}
		if len(table.Columns) == 0 {
			return &ModelError{Table: name, Reason: "table has no columns"}
		}
		for colName, col := range table.Columns {
			if col.Name != colName {
				return &ModelError{Table: name, Column: colName, Reason: "column name does not match its key"}
			}
		}
		for _, idx := range table.Indexes {
			if len(idx.Columns) == 0 {
				return &ModelError{Table: name, Reason: fmt.Sprintf("index %s has no columns", idx.Name)}
			}
			for _, col := range idx.Columns {
				if _, ok := table.Columns[col]; !ok {
					return &ModelError{Table: name, Column: col, Reason: fmt.Sprintf("index %s references unknown column", idx.Name)}
				}
			}
		}
		pkSeen := false
		for _, con := range table.Constraints {
			switch con.Kind {
			case PrimaryKey:
				if pkSeen {
					return &ModelError{Table: name, Reason: "multiple primary key constraints"}
				}
				pkSeen = true
				if err := s.checkColumns(table, con.Name, con.Columns); err != nil {
					return err
				}
			case Unique:
				if err := s.checkColumns(table, con.Name, con.Columns); err != nil {
					return err
				}
			case ForeignKey:
				if err := s.checkForeignKey(table, con); err != nil {
					return err
				}
			case Check:
				if con.Expression == "" {
					return &ModelError{Table: name, Reason: fmt.Sprintf("check constraint %s has no expression", con.Name)}
				}
			default:
				return &ModelError{Table: name, Reason: fmt.Sprintf("constraint %s has unknown kind %q", con.Name, con.Kind)}
			}
		}
	}
	return nil
}

func (s Snapshot) checkColumns(table Table, constraint string, columns []string) error {
	if len(columns) == 0 {
		return &ModelError{Table: table.Name, Reason: fmt.Sprintf("constraint %s has no columns", constraint)}
	}
	for _, col := range columns {
		if _, ok := table.Columns[col]; !ok {
			return &ModelError{Table: table.Name, Column: col, Reason: fmt.Sprintf("constraint %s references unknown column", constraint)}
		}
	}
	return nil
}

func (s Snapshot) checkForeignKey(table Table, fk Constraint) error {
	if err := s.checkColumns(table, fk.Name, fk.Columns); err != nil {
		return err
	}
	ref, ok := s.Tables[fk.RefTable]
	if !ok {
		return &ModelError{Table: table.Name, Reason: fmt.Sprintf("foreign key %s references unknown table %s", fk.Name, fk.RefTable)}
	}
	if len(fk.RefColumns) != len(fk.Columns) {
		return &ModelError{Table: table.Name, Reason: fmt.Sprintf("foreign key %s column count mismatch", fk.Name)}
	}
	for _, col := range fk.RefColumns {
		if _, ok := ref.Columns[col]; !ok {
			return &ModelError{Table: table.Name, Column: col, Reason: fmt.Sprintf("foreign key %s references unknown column %s.%s", fk.Name, fk.RefTable, col)}
		}
	}
	return nil
}
