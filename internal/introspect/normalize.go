package introspect

import (
	"database/sql"
	"strconv"
	"strings"

	"schemasync/internal/schema"
)

// kindFromNative maps a catalog type name back onto the neutral field kinds.
// Unknown names round-trip through Override so the diff still compares them
// textually instead of dropping information.
func kindFromNative(native string) schema.FieldType {
	name := strings.ToLower(strings.TrimSpace(native))
	base, args := splitTypeArgs(name)

	switch base {
	case "smallint", "int2", "smallserial":
		return schema.FieldType{Kind: schema.KindSmallInt}
	case "integer", "int", "int4", "serial", "mediumint":
		return schema.FieldType{Kind: schema.KindInteger}
	case "bigint", "int8", "bigserial":
		return schema.FieldType{Kind: schema.KindBigInt}
	case "real", "float4", "float":
		return schema.FieldType{Kind: schema.KindFloat}
	case "double precision", "double", "float8":
		return schema.FieldType{Kind: schema.KindDouble}
	case "numeric", "decimal":
		t := schema.FieldType{Kind: schema.KindDecimal}
		if len(args) == 2 {
			t.Precision, t.Scale = args[0], args[1]
		}
		return t
	case "boolean", "bool", "tinyint":
		// mysql reports BOOLEAN as tinyint(1)
		if base == "tinyint" && (len(args) != 1 || args[0] != 1) {
			return schema.FieldType{Kind: schema.KindSmallInt}
		}
		return schema.FieldType{Kind: schema.KindBoolean}
	case "character varying", "varchar", "nvarchar":
		t := schema.FieldType{Kind: schema.KindVarChar}
		if len(args) == 1 {
			t.Length = args[0]
		}
		return t
	case "character", "char":
		// uuid columns on mysql are stored as CHAR(36)
		if len(args) == 1 && args[0] == 36 {
			return schema.FieldType{Kind: schema.KindUUID}
		}
		return schema.FieldType{Kind: schema.KindText}
	case "text", "longtext", "mediumtext", "tinytext", "clob":
		return schema.FieldType{Kind: schema.KindText}
	case "bytea", "blob", "longblob", "mediumblob", "tinyblob", "varbinary", "binary":
		return schema.FieldType{Kind: schema.KindBinary}
	case "date":
		return schema.FieldType{Kind: schema.KindDate}
	case "timestamp", "timestamp without time zone", "datetime":
		return schema.FieldType{Kind: schema.KindTimestamp}
	case "timestamptz", "timestamp with time zone":
		return schema.FieldType{Kind: schema.KindTimestampTZ}
	case "json", "jsonb":
		return schema.FieldType{Kind: schema.KindJSON}
	case "uuid":
		return schema.FieldType{Kind: schema.KindUUID}
	}
	return schema.FieldType{Kind: schema.KindText, Override: native}
}

// splitTypeArgs separates "numeric(20,6)" into its base name and numeric
// arguments. Non-numeric arguments are discarded.
func splitTypeArgs(name string) (string, []int) {
	open := strings.IndexByte(name, '(')
	if open < 0 {
		return name, nil
	}
	close := strings.LastIndexByte(name, ')')
	if close < open {
		return name, nil
	}
	base := strings.TrimSpace(name[:open])
	var args []int
	for _, part := range strings.Split(name[open+1:close], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return base, nil
		}
		args = append(args, n)
	}
	return base, args
}

// normalizeDefault strips catalog noise from default expressions: postgres
// type casts like 'x'::character varying and redundant outer parentheses.
func normalizeDefault(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	v := strings.TrimSpace(raw.String)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	if i := strings.Index(v, "::"); i > 0 {
		v = v[:i]
	}
	for len(v) > 1 && v[0] == '(' && v[len(v)-1] == ')' {
		v = v[1 : len(v)-1]
	}
	return &v
}
