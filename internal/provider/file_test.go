package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/schema"
)

const schemaYAML = `tables:
  users:
    comment: application accounts
    columns:
      - name: id
        type: bigint
      - name: email
        type: varchar
        length: 320
      - name: bio
        type: text
        nullable: true
    indexes:
      - columns: [email]
        unique: true
    constraints:
      pk_users:
        kind: primary_key
        columns: [id]
  orders:
    columns:
      - name: id
        type: bigint
      - name: user_id
        type: bigint
    constraints:
      fk_orders_user_id:
        kind: foreign_key
        columns: [user_id]
        ref_table: users
        ref_columns: [id]
        on_delete: CASCADE
`

func writeSchema(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileProviderLoadsSchema(t *testing.T) {
	snap, err := NewFile(writeSchema(t, schemaYAML)).DesiredSchema(context.Background())
	require.NoError(t, err)

	users := snap.Tables["users"]
	assert.Equal(t, "application accounts", users.Comment)
	assert.Equal(t, schema.KindVarChar, users.Columns["email"].Type.Kind)
	assert.Equal(t, 320, users.Columns["email"].Type.Length)
	assert.True(t, users.Columns["bio"].Nullable)
	assert.Equal(t, []string{"id"}, users.PrimaryKeyColumns())

	idx, ok := users.Indexes["ix_users_email"]
	require.True(t, ok, "unnamed index gets the conventional name")
	assert.True(t, idx.Unique)

	fk := snap.Tables["orders"].Constraints["fk_orders_user_id"]
	assert.Equal(t, schema.ForeignKey, fk.Kind)
	assert.Equal(t, "CASCADE", fk.OnDelete)
}

func TestFileProviderRejectsUnknownType(t *testing.T) {
	path := writeSchema(t, `tables:
  users:
    columns:
      - name: id
        type: hyperloglog
`)
	_, err := NewFile(path).DesiredSchema(context.Background())
	var merr *schema.ModelError
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Reason, "hyperloglog")
}

func TestFileProviderRejectsDanglingForeignKey(t *testing.T) {
	path := writeSchema(t, `tables:
  orders:
    columns:
      - name: user_id
        type: bigint
    constraints:
      fk_orders_user_id:
        kind: foreign_key
        columns: [user_id]
        ref_table: users
        ref_columns: [id]
`)
	_, err := NewFile(path).DesiredSchema(context.Background())
	assert.Error(t, err)
}

func TestFileProviderMissingFile(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "absent.yaml")).DesiredSchema(context.Background())
	assert.Error(t, err)
}
