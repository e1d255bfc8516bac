package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemasync/internal/dialect"
	"schemasync/internal/ledger"
	"schemasync/internal/logging"
)

var recordColumns = []string{
	"id", "dialect", "checksum", "statements", "status", "irreversible",
	"created_at", "applied_at", "executed_through", "error_detail",
}

func newServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := ledger.NewStore(db, dialect.SQLite, "schemasync_history")
	return NewServer(store, logging.Nop()), mock
}

func recordRow(id uuid.UUID) *sqlmock.Rows {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return sqlmock.NewRows(recordColumns).AddRow(
		id.String(), "sqlite", "abc123", `["CREATE TABLE x","CREATE TABLE y"]`,
		"applied", 0, now, now, 2, nil,
	)
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRecords(t *testing.T) {
	srv, mock := newServer(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM "schemasync_history" WHERE status = \?`).
		WithArgs("applied").
		WillReturnRows(recordRow(id))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records?status=applied", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, id.String(), views[0]["id"])
	assert.Equal(t, "applied", views[0]["status"])
	assert.EqualValues(t, 2, views[0]["statement_count"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecord(t *testing.T) {
	srv, mock := newServer(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM "schemasync_history" WHERE id = \?`).
		WithArgs(id.String()).
		WillReturnRows(recordRow(id))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/"+id.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "abc123", view["checksum"])
	_, hasStatements := view["statements"]
	assert.False(t, hasStatements, "the record view hides statement bodies")
}

func TestGetRecordStatements(t *testing.T) {
	srv, mock := newServer(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM "schemasync_history" WHERE id = \?`).
		WithArgs(id.String()).
		WillReturnRows(recordRow(id))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/"+id.String()+"/statements", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ID         string   `json:"id"`
		Statements []string `json:"statements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id.String(), body.ID)
	assert.Equal(t, []string{"CREATE TABLE x", "CREATE TABLE y"}, body.Statements)
}

func TestGetRecordBadID(t *testing.T) {
	srv, _ := newServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRecordNotFound(t *testing.T) {
	srv, mock := newServer(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM "schemasync_history"`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(recordColumns))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records/"+id.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
