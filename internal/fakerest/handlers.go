// ABOUTME: HTTP handlers for table reads and writes, helper RPCs, management SQL and auth users.
// ABOUTME: Errors are rendered with PostgREST and management-API payload shapes.
package fakerest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.selectRows(r.PathValue("table"), r.URL.Query())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// selectRows evaluates a select request. Callers hold s.mu.
func (s *Server) selectRows(name string, q url.Values) ([]map[string]any, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, missingTable(name)
	}
	items, err := parseSelect(first(q["select"]))
	if err != nil {
		return nil, err
	}
	if err := s.checkSelect(t, items); err != nil {
		return nil, err
	}
	cond, args, err := where(t, filtersFrom(q))
	if err != nil {
		return nil, err
	}
	order, err := orderBy(t, first(q["order"]))
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := intParam(q, "offset")
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRows(t, cond, args, order, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.project(rows, items)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (s *Server) checkSelect(t *table, items []selectItem) error {
	for _, it := range items {
		if it.embed == nil {
			if !t.has(it.column) {
				return missingColumn(t.name, it.column)
			}
			continue
		}
		target, ok := s.tables[it.embed.table]
		if !ok || !t.has(it.embed.fk) {
			return &pgError{
				Status:  http.StatusBadRequest,
				Code:    "PGRST200",
				Message: fmt.Sprintf("Could not find a relationship between '%s' and '%s' in the schema cache", t.name, it.embed.table),
			}
		}
		for _, c := range it.embed.cols {
			if !target.has(c) {
				return missingColumn(target.name, c)
			}
		}
	}
	return nil
}

// project shapes rows to the select list and resolves embeds.
func (s *Server) project(rows []map[string]any, items []selectItem) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	if len(items) == 0 {
		return append(out, rows...), nil
	}
	for _, row := range rows {
		rec := map[string]any{}
		for _, it := range items {
			if it.embed == nil {
				rec[it.alias] = row[it.column]
				continue
			}
			fk := row[it.embed.fk]
			if fk == nil {
				rec[it.alias] = nil
				continue
			}
			target := s.tables[it.embed.table]
			related, err := s.queryRows(target, "id = ?", []any{fk}, "", 1, 0)
			if err != nil {
				return nil, err
			}
			if len(related) == 0 {
				rec[it.alias] = nil
				continue
			}
			if len(it.embed.cols) == 0 {
				rec[it.alias] = related[0]
				continue
			}
			sub := map[string]any{}
			for _, c := range it.embed.cols {
				sub[c] = related[0][c]
			}
			rec[it.alias] = sub
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRows(r *http.Request) ([]map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &pgError{Status: http.StatusBadRequest, Code: "PGRST102", Message: "Empty or invalid json"}
	}
	switch x := v.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		rows := make([]map[string]any, 0, len(x))
		for _, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &pgError{Status: http.StatusBadRequest, Code: "PGRST102", Message: "All object keys must match"}
			}
			rows = append(rows, m)
		}
		return rows, nil
	}
	return nil, &pgError{Status: http.StatusBadRequest, Code: "PGRST102", Message: "Empty or invalid json"}
}

func wantsRepresentation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=representation")
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.PathValue("table")
	t, ok := s.tables[name]
	if !ok {
		writeErr(w, missingTable(name))
		return
	}
	rows, err := decodeRows(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var ids []any
	for _, row := range rows {
		id, err := s.insertRow(t, row)
		if err != nil {
			writeErr(w, err)
			return
		}
		ids = append(ids, id)
	}
	if !wantsRepresentation(r) {
		w.WriteHeader(http.StatusCreated)
		return
	}
	out, err := s.rowsByID(t, ids, first(r.URL.Query()["select"]))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := r.PathValue("table")
	t, ok := s.tables[name]
	if !ok {
		writeErr(w, missingTable(name))
		return
	}
	rows, err := decodeRows(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(rows) != 1 {
		writeErr(w, badRequest("patch body must be a single object"))
		return
	}
	patch := rows[0]
	for k := range patch {
		if !t.has(k) {
			writeErr(w, unknownColumn(t.name, k))
			return
		}
	}

	cond, args, err := where(t, filtersFrom(r.URL.Query()))
	if err != nil {
		writeErr(w, err)
		return
	}
	matched, err := s.queryRows(t, cond, args, "", 0, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	ids := make([]string, 0, len(matched))
	anyIDs := make([]any, 0, len(matched))
	for _, m := range matched {
		id, _ := m["id"].(string)
		ids = append(ids, id)
		anyIDs = append(anyIDs, id)
	}
	if err := s.updateRows(t, patch, ids); err != nil {
		writeErr(w, err)
		return
	}
	if !wantsRepresentation(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	out, err := s.rowsByID(t, anyIDs, first(r.URL.Query()["select"]))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) rowsByID(t *table, ids []any, sel string) ([]map[string]any, error) {
	items, err := parseSelect(sel)
	if err != nil {
		return nil, err
	}
	if err := s.checkSelect(t, items); err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for _, id := range ids {
		rows, err := s.queryRows(t, "id = ?", []any{id}, "", 0, 0)
		if err != nil {
			return nil, err
		}
		projected, err := s.project(rows, items)
		if err != nil {
			return nil, err
		}
		out = append(out, projected...)
	}
	return out, nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := r.PathValue("fn")
	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeErr(w, &pgError{Status: http.StatusBadRequest, Code: "PGRST102", Message: "Empty or invalid json"})
		return
	}
	sql, ok := args["sql"].(string)
	if !s.helpers[fn] || !ok {
		writeErr(w, &pgError{
			Status:  http.StatusNotFound,
			Code:    "PGRST202",
			Message: fmt.Sprintf("Could not find the function public.%s(sql) in the schema cache", fn),
		})
		return
	}
	if err := s.exec(sql, true); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleManagementQuery(w http.ResponseWriter, r *http.Request) {
	if s.AccessToken == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.AccessToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	if r.PathValue("ref") != s.ProjectRef {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Project not found"})
		return
	}

	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "query is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.exec(body.Query, false); err != nil {
		msg := err.Error()
		if pe, ok := err.(*pgError); ok {
			msg = fmt.Sprintf("Failed to run sql query: ERROR:  %s: %s\n", pe.Code, pe.Message)
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": msg})
		return
	}
	writeJSON(w, http.StatusCreated, []any{})
}

func (s *Server) handleAuthUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	email, ok := s.users[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "user_not_found", "msg": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "email": email})
}

func writeErr(w http.ResponseWriter, err error) {
	if pe, ok := err.(*pgError); ok {
		pe.write(w)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
}
