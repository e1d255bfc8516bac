package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/dialect"
	"schemasync/internal/diff"
	"schemasync/internal/schema"
)

func table(name string, cols ...schema.Column) schema.Table {
	tbl := schema.NewTable(name)
	for i, col := range cols {
		col.Position = i + 1
		tbl.Columns[col.Name] = col
	}
	return tbl
}

func bigintCol(name string) schema.Column {
	return schema.Column{Name: name, Type: schema.FieldType{Kind: schema.KindBigInt}}
}

func fk(name, refTable string, cols, refCols []string) schema.Constraint {
	return schema.Constraint{
		Name: name, Kind: schema.ForeignKey,
		Columns: cols, RefTable: refTable, RefColumns: refCols,
	}
}

func addTable(tbl schema.Table) diff.Change {
	return diff.Change{Kind: diff.AddTable, Table: tbl.Name, TableDef: &tbl}
}

func sqlOf(p *Plan) string {
	return strings.Join(p.StatementText(), ";\n")
}

func TestCreateOrderFollowsForeignKeys(t *testing.T) {
	users := table("users", bigintCol("id"))
	orders := table("orders", bigintCol("id"), bigintCol("user_id"))
	orders.Constraints["fk_orders_user_id"] = fk("fk_orders_user_id", "users", []string{"user_id"}, []string{"id"})

	// orders sorts before users alphabetically; the FK must still win
	p, err := Build([]diff.Change{addTable(orders), addTable(users)}, dialect.Postgres, Options{})
	require.NoError(t, err)

	text := sqlOf(p)
	usersAt := strings.Index(text, `CREATE TABLE "users"`)
	ordersAt := strings.Index(text, `CREATE TABLE "orders"`)
	require.True(t, usersAt >= 0 && ordersAt >= 0)
	assert.Less(t, usersAt, ordersAt)
	assert.False(t, p.Irreversible)
}

func TestCreateOrderDeterministic(t *testing.T) {
	build := func() *Plan {
		a := table("alpha", bigintCol("id"))
		b := table("beta", bigintCol("id"))
		c := table("gamma", bigintCol("id"))
		p, err := Build([]diff.Change{addTable(c), addTable(a), addTable(b)}, dialect.Postgres, Options{})
		require.NoError(t, err)
		return p
	}
	first := sqlOf(build())
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sqlOf(build()))
	}
}

func TestForeignKeyCycleDeferred(t *testing.T) {
	users := table("users", bigintCol("id"), bigintCol("last_order_id"))
	users.Constraints["fk_users_last_order_id"] = fk("fk_users_last_order_id", "orders", []string{"last_order_id"}, []string{"id"})
	orders := table("orders", bigintCol("id"), bigintCol("user_id"))
	orders.Constraints["fk_orders_user_id"] = fk("fk_orders_user_id", "users", []string{"user_id"}, []string{"id"})

	p, err := Build([]diff.Change{addTable(users), addTable(orders)}, dialect.Postgres, Options{})
	require.NoError(t, err)

	text := sqlOf(p)
	// both tables created, at least one FK stripped and re-added at the end
	assert.Contains(t, text, `CREATE TABLE "users"`)
	assert.Contains(t, text, `CREATE TABLE "orders"`)
	assert.Contains(t, text, "ADD CONSTRAINT")

	alterAt := strings.Index(text, "ADD CONSTRAINT")
	lastCreate := strings.LastIndex(text, "CREATE TABLE")
	assert.Greater(t, alterAt, lastCreate)
}

func TestForeignKeyCycleUnsupportedOnSQLite(t *testing.T) {
	users := table("users", bigintCol("id"), bigintCol("last_order_id"))
	users.Constraints["fk_users_last_order_id"] = fk("fk_users_last_order_id", "orders", []string{"last_order_id"}, []string{"id"})
	orders := table("orders", bigintCol("id"), bigintCol("user_id"))
	orders.Constraints["fk_orders_user_id"] = fk("fk_orders_user_id", "users", []string{"user_id"}, []string{"id"})

	_, err := Build([]diff.Change{addTable(users), addTable(orders)}, dialect.SQLite, Options{})
	var uoe *UnsupportedOperationError
	require.ErrorAs(t, err, &uoe)
	assert.Equal(t, dialect.SQLite, uoe.Dialect)
}

func TestSelfReferenceIsNotACycle(t *testing.T) {
	categories := table("categories", bigintCol("id"), bigintCol("parent_id"))
	categories.Constraints["fk_categories_parent_id"] = fk("fk_categories_parent_id", "categories", []string{"parent_id"}, []string{"id"})

	p, err := Build([]diff.Change{addTable(categories)}, dialect.SQLite, Options{})
	require.NoError(t, err)
	assert.Contains(t, sqlOf(p), "REFERENCES")
}

func TestDropOrderReferencingFirst(t *testing.T) {
	users := table("users", bigintCol("id"))
	orders := table("orders", bigintCol("id"), bigintCol("user_id"))
	orders.Constraints["fk_orders_user_id"] = fk("fk_orders_user_id", "users", []string{"user_id"}, []string{"id"})
	actual := schema.NewSnapshot()
	actual.Tables["users"] = users
	actual.Tables["orders"] = orders

	changes := []diff.Change{
		{Kind: diff.DropTable, Table: "users"},
		{Kind: diff.DropTable, Table: "orders"},
	}
	p, err := Build(changes, dialect.Postgres, Options{Actual: actual})
	require.NoError(t, err)

	text := sqlOf(p)
	ordersAt := strings.Index(text, `DROP TABLE "orders"`)
	usersAt := strings.Index(text, `DROP TABLE "users"`)
	require.True(t, usersAt >= 0 && ordersAt >= 0)
	assert.Less(t, ordersAt, usersAt)
	assert.True(t, p.Irreversible)
}

func TestAddNotNullColumnWithoutDefaultRejected(t *testing.T) {
	col := bigintCol("tenant_id")
	_, err := Build([]diff.Change{
		{Kind: diff.AddColumn, Table: "users", Column: &col},
	}, dialect.Postgres, Options{})
	var uoe *UnsupportedOperationError
	require.ErrorAs(t, err, &uoe)
	assert.Contains(t, uoe.Reason, "NOT NULL")
}

func TestPostgresAlterTypeUsesCast(t *testing.T) {
	want := schema.Column{Name: "total", Type: schema.FieldType{Kind: schema.KindDecimal, Precision: 12, Scale: 2}}
	have := schema.Column{Name: "total", Type: schema.FieldType{Kind: schema.KindInteger}}
	p, err := Build([]diff.Change{
		{Kind: diff.AlterColumnType, Table: "orders", Column: &want, OldColumn: &have},
	}, dialect.Postgres, Options{})
	require.NoError(t, err)
	require.Len(t, p.Statements, 1)
	assert.Equal(t, `ALTER TABLE "orders" ALTER COLUMN "total" TYPE NUMERIC(12,2) USING "total"::NUMERIC(12,2)`, p.Statements[0].SQL)
	assert.True(t, p.Irreversible)
}

func TestMySQLModifyColumn(t *testing.T) {
	want := schema.Column{Name: "email", Type: schema.FieldType{Kind: schema.KindVarChar, Length: 320}}
	have := schema.Column{Name: "email", Type: schema.FieldType{Kind: schema.KindVarChar, Length: 255}}
	p, err := Build([]diff.Change{
		{Kind: diff.AlterColumnType, Table: "users", Column: &want, OldColumn: &have},
	}, dialect.MySQL, Options{})
	require.NoError(t, err)
	require.Len(t, p.Statements, 1)
	assert.Equal(t, "ALTER TABLE `users` MODIFY COLUMN `email` VARCHAR(320) NOT NULL", p.Statements[0].SQL)
}

func TestMySQLCreateTableSuffix(t *testing.T) {
	users := table("users", bigintCol("id"))
	p, err := Build([]diff.Change{addTable(users)}, dialect.MySQL, Options{})
	require.NoError(t, err)
	assert.Contains(t, p.Statements[0].SQL, "DEFAULT CHARACTER SET=utf8mb4 COLLATE=utf8mb4_unicode_ci")
}

func TestMySQLDropForeignKey(t *testing.T) {
	p, err := Build([]diff.Change{
		{Kind: diff.DropConstraint, Table: "orders", ConstraintName: "fk_orders_user_id", ConstraintKind: schema.ForeignKey},
	}, dialect.MySQL, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE `orders` DROP FOREIGN KEY `fk_orders_user_id`", p.Statements[0].SQL)
}

func TestTypeOverrideFlowsIntoDDL(t *testing.T) {
	users := table("users", schema.Column{Name: "id", Type: schema.FieldType{Kind: schema.KindBigInt}})
	p, err := Build([]diff.Change{addTable(users)}, dialect.Postgres, Options{
		TypeOverrides: map[string]string{"bigint": "BIGSERIAL"},
	})
	require.NoError(t, err)
	assert.Contains(t, p.Statements[0].SQL, `"id" BIGSERIAL`)
}
