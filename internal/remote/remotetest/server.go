// Package remotetest provides an in-memory backend implementing the row API
// over HTTP. It backs the engine's end-to-end tests and the `keeper
// serve-fake` development command.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keeperhq/keeper/internal/remote"
)

// Server is a fake system of record: per-table row maps, version stamping,
// referential-integrity checks on category_id, and scripted failure
// injection for exercising the executor's retry paths.
type Server struct {
	mu     sync.Mutex
	tables map[string]map[string]remote.Row
	seq    int64

	// failures maps "<method> <table>" to a queue of error responses served
	// before normal handling resumes.
	failures map[string][]remote.Error

	router chi.Router
}

// NewServer creates an empty fake backend.
func NewServer() *Server {
	s := &Server{
		tables:   map[string]map[string]remote.Row{},
		failures: map[string][]remote.Error{},
	}
	r := chi.NewRouter()
	r.Route("/v1/{table}", func(r chi.Router) {
		r.Post("/", s.handleInsert)
		r.Patch("/", s.handleUpdate)
		r.Delete("/", s.handleDelete)
		r.Get("/", s.handleSelect)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler for the fake backend.
func (s *Server) Handler() http.Handler { return s.router }

// HandlerWithMetrics wraps the row API with a per-table request counter
// registered on reg and mounts /metrics next to it. Used by the serve-fake
// command.
func (s *Server) HandlerWithMetrics(reg *prometheus.Registry) http.Handler {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keeper_fake",
		Name:      "requests_total",
		Help:      "Row API requests served, by table and method.",
	}, []string{"table", "method"})
	reg.MustRegister(requests)

	counted := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if rest, ok := strings.CutPrefix(req.URL.Path, "/v1/"); ok && rest != "" {
			table, _, _ := strings.Cut(rest, "/")
			requests.WithLabelValues(table, req.Method).Inc()
		}
		s.router.ServeHTTP(w, req)
	})

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Mount("/", counted)
	return r
}

// Seed inserts a row directly, bypassing validation. For test setup.
func (s *Server) Seed(table string, row remote.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = map[string]remote.Row{}
	}
	s.tables[table][fmt.Sprint(row["id"])] = cloneRow(row)
}

// Get returns a stored row by ID, or nil.
func (s *Server) Get(table, id string) remote.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][id]
	if !ok {
		return nil
	}
	return cloneRow(row)
}

// Count returns the number of rows in a table.
func (s *Server) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

// FailNext queues a structured error for the next call of the given method
// ("insert", "update", "delete", "select") on table.
func (s *Server) FailNext(method, table string, e remote.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + table
	s.failures[key] = append(s.failures[key], e)
}

func (s *Server) popFailure(method, table string) *remote.Error {
	key := method + " " + table
	q := s.failures[key]
	if len(q) == 0 {
		return nil
	}
	e := q[0]
	s.failures[key] = q[1:]
	return &e
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var row remote.Row
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, remote.Error{Code: remote.CodeInvalid, Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.popFailure("insert", table); e != nil {
		writeError(w, statusFor(e.Code), *e)
		return
	}
	if e := s.checkReferences(table, row); e != nil {
		writeError(w, statusFor(e.Code), *e)
		return
	}

	if s.tables[table] == nil {
		s.tables[table] = map[string]remote.Row{}
	}
	id := fmt.Sprint(row["id"])
	if id == "" || id == "<nil>" {
		s.seq++
		id = fmt.Sprintf("srv-%d", s.seq)
		row["id"] = id
	}
	row["version"] = float64(1)
	row["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	s.tables[table][id] = cloneRow(row)

	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	var req struct {
		Filter remote.Filter `json:"filter"`
		Patch  remote.Row    `json:"patch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, remote.Error{Code: remote.CodeInvalid, Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.popFailure("update", table); e != nil {
		writeError(w, statusFor(e.Code), *e)
		return
	}
	if e := s.checkReferences(table, req.Patch); e != nil {
		writeError(w, statusFor(e.Code), *e)
		return
	}

	for id, row := range s.tables[table] {
		if !matches(row, req.Filter) {
			continue
		}
		for k, v := range req.Patch {
			row[k] = v
		}
		row["version"] = asFloat(row["version"]) + 1
		row["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		s.tables[table][id] = row
		writeJSON(w, http.StatusOK, row)
		return
	}
	writeError(w, http.StatusNotFound, remote.Error{Code: remote.CodeNotFound, Message: "no row matched filter"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	filter := filterFromQuery(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.popFailure("delete", table); e != nil {
		writeError(w, statusFor(e.Code), *e)
		return
	}

	for id, row := range s.tables[table] {
		if matches(row, filter) {
			delete(s.tables[table], id)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	filter := filterFromQuery(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.popFailure("select", table); e != nil {
		writeError(w, statusFor(e.Code), *e)
		return
	}

	rows := []remote.Row{}
	for _, row := range s.tables[table] {
		if matches(row, filter) {
			rows = append(rows, cloneRow(row))
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

// checkReferences enforces the one referential constraint the engine's
// repair path cares about: category_id must point at an existing category.
func (s *Server) checkReferences(table string, row remote.Row) *remote.Error {
	if table == remote.TableCategories {
		return nil
	}
	raw, ok := row["category_id"]
	if !ok {
		return nil
	}
	id := fmt.Sprint(raw)
	if id == "" {
		return nil
	}
	if _, exists := s.tables[remote.TableCategories][id]; !exists {
		return &remote.Error{
			Code:    remote.CodeForeignKey,
			Field:   "category_id",
			Message: fmt.Sprintf("category %q does not exist", id),
		}
	}
	return nil
}

func filterFromQuery(r *http.Request) remote.Filter {
	f := remote.Filter{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			f[k] = vs[0]
		}
	}
	return f
}

func matches(row remote.Row, filter remote.Filter) bool {
	for k, v := range filter {
		if fmt.Sprint(row[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func cloneRow(row remote.Row) remote.Row {
	c := make(remote.Row, len(row))
	for k, v := range row {
		c[k] = v
	}
	return c
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func statusFor(code remote.Code) int {
	switch code {
	case remote.CodeNotFound:
		return http.StatusNotFound
	case remote.CodeConflict:
		return http.StatusConflict
	case remote.CodeForeignKey, remote.CodeInvalid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e remote.Error) {
	writeJSON(w, status, map[string]any{
		"code":    e.Code,
		"message": e.Message,
		"field":   e.Field,
	})
}
