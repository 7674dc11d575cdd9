// ABOUTME: SQLite-backed table storage for the fake data surface.
// ABOUTME: Converts between JSON values and stored values using per-column types.
package fakerest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/stretchr/testify/require"
)

// ColType is how a column's values are stored and rendered.
type ColType string

const (
	Text   ColType = "text"
	Number ColType = "number"
	Bool   ColType = "bool"
	JSON   ColType = "json"
)

// Column declares a column for CreateTable.
type Column struct {
	Name   string
	Type   ColType
	Unique bool
}

type table struct {
	name  string
	cols  []string
	types map[string]ColType
}

func (t *table) has(col string) bool {
	_, ok := t.types[col]
	return ok
}

func (t *table) add(col string, typ ColType) {
	t.cols = append(t.cols, col)
	t.types[col] = typ
}

// pgError is a database-level failure rendered the way PostgREST reports it.
type pgError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *pgError) Error() string { return e.Code + ": " + e.Message }

func (e *pgError) write(w http.ResponseWriter) {
	writeJSON(w, e.Status, map[string]any{
		"code":    e.Code,
		"message": e.Message,
		"details": nilIfEmpty(e.Details),
		"hint":    nilIfEmpty(e.Hint),
	})
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func missingColumn(tbl, col string) *pgError {
	return &pgError{Status: http.StatusBadRequest, Code: "42703", Message: fmt.Sprintf("column %s.%s does not exist", tbl, col)}
}

func missingTable(tbl string) *pgError {
	return &pgError{
		Status:  http.StatusNotFound,
		Code:    "PGRST205",
		Message: fmt.Sprintf("Could not find the table 'public.%s' in the schema cache", tbl),
	}
}

// typeForPG maps a Postgres type name to a storage type.
func typeForPG(name string) ColType {
	switch strings.ToLower(name) {
	case "bool", "boolean":
		return Bool
	case "int2", "int4", "int8", "integer", "bigint", "smallint", "numeric", "decimal", "float4", "float8", "real":
		return Number
	case "json", "jsonb":
		return JSON
	}
	return Text
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// CreateTable creates a table. An id column is added when cols lacks one.
func (s *Server) CreateTable(name string, cols ...Column) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasID := false
	for _, c := range cols {
		if c.Name == "id" {
			hasID = true
		}
	}
	if !hasID {
		cols = append([]Column{{Name: "id", Type: Text}}, cols...)
	}

	t := &table{name: name, types: map[string]ColType{}}
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		typ := c.Type
		if typ == "" {
			typ = Text
		}
		def := quote(c.Name)
		switch {
		case c.Name == "id":
			def += " PRIMARY KEY"
		case c.Unique:
			def += " UNIQUE"
		}
		defs = append(defs, def)
		t.add(c.Name, typ)
	}
	_, err := s.db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(defs, ", ")))
	require.NoError(s.t, err)
	s.tables[name] = t
}

// CreateBaseline creates user_profiles and athlete_profiles with only their
// original columns, as they exist before any migration.
func (s *Server) CreateBaseline() {
	s.CreateTable("user_profiles",
		Column{Name: "user_id", Type: Text, Unique: true},
		Column{Name: "email", Type: Text},
		Column{Name: "created_at", Type: Text},
	)
	s.CreateTable("athlete_profiles",
		Column{Name: "user_id", Type: Text},
		Column{Name: "profile_json", Type: JSON},
		Column{Name: "score_data", Type: JSON},
		Column{Name: "created_at", Type: Text},
	)
}

// CreateMigrated creates the baseline tables and applies every add_column
// step of the default plan, as after a completed schema migration.
func (s *Server) CreateMigrated() {
	s.CreateBaseline()
	p, err := plan.Default()
	require.NoError(s.t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range p.Schema() {
		if op.Op != plan.AddColumn {
			continue
		}
		require.NoError(s.t, s.exec(op.MustSQL(), false), op.String())
	}
	s.executed = nil
}

// HasColumn reports whether table has col.
func (s *Server) HasColumn(tableName, col string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	return ok && t.has(col)
}

// Insert stores row directly and returns it as stored.
func (s *Server) Insert(tableName string, row map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	require.True(s.t, ok, "no table %s", tableName)
	id, err := s.insertRow(t, row)
	require.NoError(s.t, err)
	rows, err := s.queryRows(t, "id = ?", []any{id}, "", 0, 0)
	require.NoError(s.t, err)
	require.Len(s.t, rows, 1)
	return rows[0]
}

// Rows returns every row of table in insertion order.
func (s *Server) Rows(tableName string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	require.True(s.t, ok, "no table %s", tableName)
	rows, err := s.queryRows(t, "", nil, "", 0, 0)
	require.NoError(s.t, err)
	return rows
}

// Row returns the row with id, or nil.
func (s *Server) Row(tableName, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableName]
	require.True(s.t, ok, "no table %s", tableName)
	rows, err := s.queryRows(t, "id = ?", []any{id}, "", 0, 0)
	require.NoError(s.t, err)
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// insertRow writes one row, minting an id and created_at when absent.
// Callers hold s.mu.
func (s *Server) insertRow(t *table, row map[string]any) (string, error) {
	values := map[string]any{}
	for k, v := range row {
		values[k] = v
	}
	if values["id"] == nil {
		values["id"] = uuid.NewString()
	}
	if t.has("created_at") && values["created_at"] == nil {
		values["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	for k := range values {
		if !t.has(k) {
			return "", unknownColumn(t.name, k)
		}
	}

	cols := make([]string, 0, len(values))
	marks := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, col := range t.cols {
		v, ok := values[col]
		if !ok {
			continue
		}
		dv, err := toDB(t.types[col], v)
		if err != nil {
			return "", err
		}
		cols = append(cols, quote(col))
		marks = append(marks, "?")
		args = append(args, dv)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(t.name), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return "", sqliteError(t.name, err)
	}
	id, _ := values["id"].(string)
	return id, nil
}

func unknownColumn(tbl, col string) *pgError {
	return &pgError{
		Status:  http.StatusBadRequest,
		Code:    "PGRST204",
		Message: fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", col, tbl),
	}
}

func sqliteError(tbl string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		key := tbl + "_key"
		if _, after, ok := strings.Cut(msg, "UNIQUE constraint failed: "); ok {
			if f := strings.Fields(after); len(f) > 0 {
				key = strings.ReplaceAll(f[0], ".", "_") + "_key"
			}
		}
		return &pgError{
			Status:  http.StatusConflict,
			Code:    "23505",
			Message: fmt.Sprintf("duplicate key value violates unique constraint %q", key),
		}
	}
	return &pgError{Status: http.StatusInternalServerError, Code: "XX000", Message: msg}
}

// updateRows applies patch to the rows with ids. Callers hold s.mu.
func (s *Server) updateRows(t *table, patch map[string]any, ids []string) error {
	if len(patch) == 0 || len(ids) == 0 {
		return nil
	}
	sets := make([]string, 0, len(patch))
	args := make([]any, 0, len(patch)+1)
	for _, col := range t.cols {
		v, ok := patch[col]
		if !ok {
			continue
		}
		dv, err := toDB(t.types[col], v)
		if err != nil {
			return err
		}
		sets = append(sets, quote(col)+" = ?")
		args = append(args, dv)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(t.name), strings.Join(sets, ", "))
	for _, id := range ids {
		if _, err := s.db.Exec(query, append(args, id)...); err != nil {
			return sqliteError(t.name, err)
		}
	}
	return nil
}

// queryRows reads rows matching where. Callers hold s.mu.
func (s *Server) queryRows(t *table, where string, args []any, order string, limit, offset int) ([]map[string]any, error) {
	cols := make([]string, len(t.cols))
	for i, c := range t.cols {
		cols[i] = quote(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quote(t.name))
	if where != "" {
		query += " WHERE " + where
	}
	if order != "" {
		query += " ORDER BY " + order + ", rowid"
	} else {
		query += " ORDER BY rowid"
	}
	if limit > 0 || offset > 0 {
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &pgError{Status: http.StatusInternalServerError, Code: "XX000", Message: err.Error()}
	}
	defer func() { _ = rows.Close() }()

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(t.cols))
		ptrs := make([]any, len(t.cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(t.cols))
		for i, col := range t.cols {
			rec[col] = fromDB(t.types[col], raw[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func invalidInput(typ ColType, v any) *pgError {
	return &pgError{
		Status:  http.StatusBadRequest,
		Code:    "22P02",
		Message: fmt.Sprintf("invalid input syntax for type %s: %v", typ, v),
	}
}

// toDB converts a decoded JSON value to its stored form.
func toDB(typ ColType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case Bool:
		switch b := v.(type) {
		case bool:
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			switch b {
			case "true":
				return int64(1), nil
			case "false":
				return int64(0), nil
			}
		}
		return nil, invalidInput(typ, v)
	case Number:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, invalidInput(typ, v)
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, invalidInput(typ, v)
			}
			return f, nil
		}
		return nil, invalidInput(typ, v)
	case JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, invalidInput(typ, v)
		}
		return string(b), nil
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
		return nil, invalidInput(typ, v)
	}
}

// fromDB converts a stored value to its JSON form.
func fromDB(typ ColType, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch typ {
	case Bool:
		switch b := v.(type) {
		case int64:
			return b != 0
		case float64:
			return b != 0
		}
	case Number:
		switch n := v.(type) {
		case int64:
			return float64(n)
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f
			}
		}
	case JSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	}
	return v
}
