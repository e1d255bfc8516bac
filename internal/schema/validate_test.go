package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userTable() Table {
	tbl := NewTable("users")
	tbl.Columns["id"] = Column{Name: "id", Type: FieldType{Kind: KindBigInt}, Position: 1}
	tbl.Columns["email"] = Column{Name: "email", Type: FieldType{Kind: KindVarChar, Length: 255}, Position: 2}
	tbl.Constraints["pk_users"] = Constraint{Name: "pk_users", Kind: PrimaryKey, Columns: []string{"id"}}
	return tbl
}

func TestValidateAccepts(t *testing.T) {
	snap := NewSnapshot()
	snap.Tables["users"] = userTable()

	orders := NewTable("orders")
	orders.Columns["id"] = Column{Name: "id", Type: FieldType{Kind: KindBigInt}, Position: 1}
	orders.Columns["user_id"] = Column{Name: "user_id", Type: FieldType{Kind: KindBigInt}, Position: 2}
	orders.Constraints["fk_orders_user_id"] = Constraint{
		Name: "fk_orders_user_id", Kind: ForeignKey,
		Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"},
	}
	orders.Indexes["ix_orders_user_id"] = Index{Name: "ix_orders_user_id", Columns: []string{"user_id"}}
	snap.Tables["orders"] = orders

	require.NoError(t, snap.Validate())
}

func TestValidateRejectsEmptyTable(t *testing.T) {
	snap := NewSnapshot()
	snap.Tables["empty"] = NewTable("empty")
	err := snap.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestValidateRejectsUnknownIndexColumn(t *testing.T) {
	snap := NewSnapshot()
	tbl := userTable()
	tbl.Indexes["ix_users_missing"] = Index{Name: "ix_users_missing", Columns: []string{"missing"}}
	snap.Tables["users"] = tbl
	assert.Error(t, snap.Validate())
}

func TestValidateRejectsDanglingForeignKey(t *testing.T) {
	snap := NewSnapshot()
	tbl := userTable()
	tbl.Constraints["fk_users_org"] = Constraint{
		Name: "fk_users_org", Kind: ForeignKey,
		Columns: []string{"id"}, RefTable: "organizations", RefColumns: []string{"id"},
	}
	snap.Tables["users"] = tbl
	err := snap.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")
}

func TestValidateRejectsDoublePrimaryKey(t *testing.T) {
	snap := NewSnapshot()
	tbl := userTable()
	tbl.Constraints["pk_other"] = Constraint{Name: "pk_other", Kind: PrimaryKey, Columns: []string{"email"}}
	snap.Tables["users"] = tbl
	err := snap.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key")
}

func TestColumnEqualIgnoresPosition(t *testing.T) {
	a := Column{Name: "id", Type: FieldType{Kind: KindBigInt}, Position: 1}
	b := a
	b.Position = 5
	assert.True(t, a.Equal(b))
}

func TestColumnEqualTrimsDefaults(t *testing.T) {
	d1, d2 := "0", " 0 "
	a := Column{Name: "n", Type: FieldType{Kind: KindInteger}, Default: &d1}
	b := Column{Name: "n", Type: FieldType{Kind: KindInteger}, Default: &d2}
	assert.True(t, a.Equal(b))
}
