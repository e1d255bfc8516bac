package dialect

import (
	"fmt"

	"schemasync/internal/schema"
)

// UnmappedTypeError names the offending type and dialect. Types are never
// silently defaulted.
type UnmappedTypeError struct {
	Type    schema.FieldType
	Dialect Dialect
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("no %s mapping for type %s", e.Dialect, e.Type)
}

// MapType resolves a normalized field type to a backend column type.
// Precedence: the field's own override string, then the configured overrides
// keyed by normalized kind, then the built-in per-dialect table.
func MapType(t schema.FieldType, d Dialect, overrides map[string]string) (string, error) {
	if t.Override != "" {
		return t.Override, nil
	}
	if ov, ok := overrides[string(t.Kind)]; ok {
		return ov, nil
	}
	table, ok := builtinTypes[d]
	if !ok {
		return "", &UnmappedTypeError{Type: t, Dialect: d}
	}
	base, ok := table[t.Kind]
	if !ok {
		return "", &UnmappedTypeError{Type: t, Dialect: d}
	}
	switch t.Kind {
	case schema.KindVarChar:
		length := t.Length
		if length == 0 {
			length = 255
		}
		if d == SQLite {
			return base, nil
		}
		return fmt.Sprintf("%s(%d)", base, length), nil
	case schema.KindDecimal:
		if d == SQLite {
			return base, nil
		}
		precision, scale := t.Precision, t.Scale
		if precision == 0 {
			precision, scale = 20, 6
		}
		return fmt.Sprintf("%s(%d,%d)", base, precision, scale), nil
	default:
		return base, nil
	}
}

var builtinTypes = map[Dialect]map[schema.FieldKind]string{
	Postgres: {
		schema.KindSmallInt:    "SMALLINT",
		schema.KindInteger:     "INTEGER",
		schema.KindBigInt:      "BIGINT",
		schema.KindFloat:       "REAL",
		schema.KindDouble:      "DOUBLE PRECISION",
		schema.KindVarChar:     "VARCHAR",
		schema.KindText:        "TEXT",
		schema.KindBoolean:     "BOOLEAN",
		schema.KindDate:        "DATE",
		schema.KindTimestamp:   "TIMESTAMP",
		schema.KindTimestampTZ: "TIMESTAMP WITH TIME ZONE",
		schema.KindBinary:      "BYTEA",
		schema.KindDecimal:     "NUMERIC",
		schema.KindJSON:        "JSONB",
		schema.KindUUID:        "UUID",
	},
	MySQL: {
		schema.KindSmallInt:    "SMALLINT",
		schema.KindInteger:     "INT",
		schema.KindBigInt:      "BIGINT",
		schema.KindFloat:       "FLOAT",
		schema.KindDouble:      "DOUBLE",
		schema.KindVarChar:     "VARCHAR",
		schema.KindText:        "TEXT",
		schema.KindBoolean:     "TINYINT(1)",
		schema.KindDate:        "DATE",
		schema.KindTimestamp:   "TIMESTAMP",
		schema.KindTimestampTZ: "TIMESTAMP",
		schema.KindBinary:      "BLOB",
		schema.KindDecimal:     "DECIMAL",
		schema.KindJSON:        "JSON",
		schema.KindUUID:        "CHAR(36)",
	},
	SQLite: {
		schema.KindSmallInt:    "INTEGER",
		schema.KindInteger:     "INTEGER",
		schema.KindBigInt:      "INTEGER",
		schema.KindFloat:       "REAL",
		schema.KindDouble:      "REAL",
		schema.KindVarChar:     "TEXT",
		schema.KindText:        "TEXT",
		schema.KindBoolean:     "INTEGER",
		schema.KindDate:        "TEXT",
		schema.KindTimestamp:   "TEXT",
		schema.KindTimestampTZ: "TEXT",
		schema.KindBinary:      "BLOB",
		schema.KindDecimal:     "REAL",
		schema.KindJSON:        "TEXT",
		schema.KindUUID:        "TEXT",
	},
}
