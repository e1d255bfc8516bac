// Package report serves a read-only HTTP view of the migration ledger.
package report

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"schemasync/internal/ledger"
)

// Server exposes ledger records over HTTP. It never mutates anything.
type Server struct {
	store *ledger.Store
	log   *slog.Logger
}

func NewServer(store *ledger.Store, log *slog.Logger) *Server {
	return &Server{store: store, log: log}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/records", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/statements", s.handleStatements)
	})
	return r
}

type recordView struct {
	ID              string     `json:"id"`
	Dialect         string     `json:"dialect"`
	Checksum        string     `json:"checksum"`
	Status          string     `json:"status"`
	Irreversible    bool       `json:"irreversible"`
	CreatedAt       time.Time  `json:"created_at"`
	AppliedAt       *time.Time `json:"applied_at,omitempty"`
	ExecutedThrough int        `json:"executed_through"`
	StatementCount  int        `json:"statement_count"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
}

func viewOf(rec ledger.Record) recordView {
	return recordView{
		ID:              rec.ID.String(),
		Dialect:         rec.Dialect,
		Checksum:        rec.Checksum,
		Status:          string(rec.Status),
		Irreversible:    rec.Irreversible,
		CreatedAt:       rec.CreatedAt,
		AppliedAt:       rec.AppliedAt,
		ExecutedThrough: rec.ExecutedThrough,
		StatementCount:  len(rec.Statements),
		ErrorDetail:     rec.ErrorDetail,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := ledger.Status(r.URL.Query().Get("status"))
	records, err := s.store.List(r.Context(), status)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec))
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	s.respond(w, http.StatusOK, viewOf(rec))
}

func (s *Server) handleStatements(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"id":         rec.ID.String(),
		"statements": rec.Statements,
	})
}

func (s *Server) record(w http.ResponseWriter, r *http.Request) (ledger.Record, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid record id"})
		return ledger.Record{}, false
	}
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrRecordNotFound) {
		s.respond(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return ledger.Record{}, false
	}
	if err != nil {
		s.fail(w, err)
		return ledger.Record{}, false
	}
	return rec, true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "error", err)
	s.respond(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (s *Server) respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}
