package introspect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMysqlReader(t *testing.T) (*mysqlReader, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &mysqlReader{db: db, schema: "app"}, mock
}

func TestCheckConstraintsToleratesPre8Servers(t *testing.T) {
	r, mock := newMysqlReader(t)
	mock.ExpectQuery(`information_schema.CHECK_CONSTRAINTS`).
		WillReturnError(&mysql.MySQLError{Number: 1109, Message: "Unknown table 'CHECK_CONSTRAINTS' in information_schema"})

	checks, err := r.checkConstraints(context.Background(), "app")
	require.NoError(t, err)
	assert.Nil(t, checks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckConstraintsPropagatesOtherErrors(t *testing.T) {
	r, mock := newMysqlReader(t)
	mock.ExpectQuery(`information_schema.CHECK_CONSTRAINTS`).
		WillReturnError(context.Canceled)

	_, err := r.checkConstraints(context.Background(), "app")
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckConstraintsReadsClauses(t *testing.T) {
	r, mock := newMysqlReader(t)
	mock.ExpectQuery(`information_schema.CHECK_CONSTRAINTS`).
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "CONSTRAINT_NAME", "CHECK_CLAUSE"}).
			AddRow("orders", "ck_orders_total_positive", "(`total` >= 0)"))

	checks, err := r.checkConstraints(context.Background(), "app")
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, "orders", checks[0].table)
	assert.Equal(t, "ck_orders_total_positive", checks[0].name)
	require.NoError(t, mock.ExpectationsWereMet())
}
