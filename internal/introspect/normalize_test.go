package introspect

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"schemasync/internal/schema"
)

func TestKindFromNative(t *testing.T) {
	tests := []struct {
		native string
		want   schema.FieldType
	}{
		{"bigint", schema.FieldType{Kind: schema.KindBigInt}},
		{"int4", schema.FieldType{Kind: schema.KindInteger}},
		{"serial", schema.FieldType{Kind: schema.KindInteger}},
		{"character varying(320)", schema.FieldType{Kind: schema.KindVarChar, Length: 320}},
		{"VARCHAR(64)", schema.FieldType{Kind: schema.KindVarChar, Length: 64}},
		{"numeric(10,2)", schema.FieldType{Kind: schema.KindDecimal, Precision: 10, Scale: 2}},
		{"numeric", schema.FieldType{Kind: schema.KindDecimal}},
		{"tinyint(1)", schema.FieldType{Kind: schema.KindBoolean}},
		{"tinyint(4)", schema.FieldType{Kind: schema.KindSmallInt}},
		{"char(36)", schema.FieldType{Kind: schema.KindUUID}},
		{"char(2)", schema.FieldType{Kind: schema.KindText}},
		{"jsonb", schema.FieldType{Kind: schema.KindJSON}},
		{"timestamp with time zone", schema.FieldType{Kind: schema.KindTimestampTZ}},
		{"datetime", schema.FieldType{Kind: schema.KindTimestamp}},
		{"longblob", schema.FieldType{Kind: schema.KindBinary}},
		{"uuid", schema.FieldType{Kind: schema.KindUUID}},
		{"tsvector", schema.FieldType{Kind: schema.KindText, Override: "tsvector"}},
	}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			assert.Equal(t, tt.want, kindFromNative(tt.native))
		})
	}
}

func TestSplitTypeArgs(t *testing.T) {
	base, args := splitTypeArgs("numeric(20,6)")
	assert.Equal(t, "numeric", base)
	assert.Equal(t, []int{20, 6}, args)

	base, args = splitTypeArgs("text")
	assert.Equal(t, "text", base)
	assert.Nil(t, args)

	// enum-style arguments are not numeric and are dropped
	base, args = splitTypeArgs("enum('a','b')")
	assert.Equal(t, "enum", base)
	assert.Nil(t, args)
}

func TestNormalizeDefault(t *testing.T) {
	str := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	assert.Nil(t, normalizeDefault(sql.NullString{}))
	assert.Nil(t, normalizeDefault(str("NULL")))
	assert.Nil(t, normalizeDefault(str("  ")))

	tests := []struct{ in, want string }{
		{"'active'::character varying", "'active'"},
		{"0", "0"},
		{"((0))", "0"},
		{"CURRENT_TIMESTAMP", "CURRENT_TIMESTAMP"},
	}
	for _, tt := range tests {
		got := normalizeDefault(str(tt.in))
		if assert.NotNil(t, got, tt.in) {
			assert.Equal(t, tt.want, *got, tt.in)
		}
	}
}
