package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/schema"
)

func defaultOpts() RegistryOptions {
	return RegistryOptions{IndexForeignKeys: true, Timestamps: true}
}

func TestRegistryBuildsSnapshot(t *testing.T) {
	user := NewModel("User").Comment("application accounts")
	user.ID()
	user.Field("Email", schema.KindVarChar).Length(320).Unique()
	user.Field("DisplayName", schema.KindVarChar).Length(100).Nullable()

	order := NewModel("Order")
	order.ID()
	order.Field("UserID", schema.KindBigInt).References("User").OnDelete("CASCADE")
	order.Field("Total", schema.KindDecimal).Precision(12, 2).Default("0")
	order.Check("total_positive", "total >= 0")

	reg := NewRegistry(schema.DefaultNaming(), defaultOpts()).Register(user, order)
	snap, err := reg.DesiredSchema(context.Background())
	require.NoError(t, err)

	users, ok := snap.Tables["users"]
	require.True(t, ok, "model names are pluralized and snake_cased")
	assert.Equal(t, "application accounts", users.Comment)
	assert.Equal(t, []string{"id"}, users.PrimaryKeyColumns())
	assert.False(t, users.Columns["email"].Nullable)
	assert.True(t, users.Columns["display_name"].Nullable)

	uq, ok := users.Constraints["uq_users_email"]
	require.True(t, ok)
	assert.Equal(t, schema.Unique, uq.Kind)

	// timestamps are appended unless the model opts out
	created := users.Columns["created_at"]
	assert.Equal(t, schema.KindTimestampTZ, created.Type.Kind)
	assert.False(t, created.Nullable)
	require.NotNil(t, created.Default)
	assert.Equal(t, "CURRENT_TIMESTAMP", *created.Default)

	orders := snap.Tables["orders"]
	fk, ok := orders.Constraints["fk_orders_user_id"]
	require.True(t, ok)
	assert.Equal(t, "users", fk.RefTable)
	assert.Equal(t, []string{"id"}, fk.RefColumns)
	assert.Equal(t, "CASCADE", fk.OnDelete)

	_, ok = orders.Indexes["ix_orders_user_id"]
	assert.True(t, ok, "foreign key columns get a backing index")

	ck, ok := orders.Constraints["ck_orders_total_positive"]
	require.True(t, ok)
	assert.Equal(t, "total >= 0", ck.Expression)
}

func TestRegistryWithoutTimestamps(t *testing.T) {
	m := NewModel("Setting").WithoutTimestamps()
	m.ID()
	m.Field("Key", schema.KindVarChar).Length(64)

	snap, err := NewRegistry(schema.DefaultNaming(), defaultOpts()).Register(m).DesiredSchema(context.Background())
	require.NoError(t, err)

	_, ok := snap.Tables["settings"].Columns["created_at"]
	assert.False(t, ok)
}

func TestRegistryDefaultNullable(t *testing.T) {
	m := NewModel("Note").WithoutTimestamps()
	m.ID()
	m.Field("Body", schema.KindText)
	m.Field("Pinned", schema.KindBoolean).NotNull()

	opts := defaultOpts()
	opts.DefaultNullable = true
	snap, err := NewRegistry(schema.DefaultNaming(), opts).Register(m).DesiredSchema(context.Background())
	require.NoError(t, err)

	notes := snap.Tables["notes"]
	assert.True(t, notes.Columns["body"].Nullable)
	assert.False(t, notes.Columns["pinned"].Nullable, "explicit NotNull wins over the default")
	assert.False(t, notes.Columns["id"].Nullable, "primary keys are never nullable")
}

func TestRegistryUnregisteredReference(t *testing.T) {
	m := NewModel("Order")
	m.ID()
	m.Field("UserID", schema.KindBigInt).References("User")

	_, err := NewRegistry(schema.DefaultNaming(), defaultOpts()).Register(m).DesiredSchema(context.Background())
	var merr *schema.ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "orders", merr.Table)
	assert.Contains(t, merr.Reason, "unregistered model")
}

func TestRegistryDuplicateTable(t *testing.T) {
	a := NewModel("User")
	a.ID()
	b := NewModel("user")
	b.ID()

	_, err := NewRegistry(schema.DefaultNaming(), defaultOpts()).Register(a, b).DesiredSchema(context.Background())
	var merr *schema.ModelError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Reason, "same table name")
}

func TestRegistryUniqueCompositeIndex(t *testing.T) {
	m := NewModel("Membership").WithoutTimestamps()
	m.ID()
	m.Field("UserID", schema.KindBigInt)
	m.Field("TeamID", schema.KindBigInt)
	m.UniqueIndex("UserID", "TeamID")
	m.Index("TeamID")

	snap, err := NewRegistry(schema.DefaultNaming(), defaultOpts()).Register(m).DesiredSchema(context.Background())
	require.NoError(t, err)

	tbl := snap.Tables["memberships"]
	uq, ok := tbl.Constraints["uq_memberships_user_id_team_id"]
	require.True(t, ok, "unique indexes become unique constraints")
	assert.Equal(t, []string{"user_id", "team_id"}, uq.Columns)

	_, ok = tbl.Indexes["ix_memberships_team_id"]
	assert.True(t, ok)
}
