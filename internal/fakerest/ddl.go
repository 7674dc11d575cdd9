// ABOUTME: Interprets SQL received on the helper RPC and management paths.
// ABOUTME: ADD COLUMN alters the SQLite table; indexes and constraints are tracked by name.
package fakerest

import (
	"fmt"
	"net/http"

	"github.com/harperreed/profilectl/internal/plan"
)

func sqlError(code, format string, args ...any) *pgError {
	return &pgError{Status: http.StatusBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

// exec applies sql. Statements before a failing one stay applied, as with
// autocommit. inFunction marks SQL run inside a helper function, where
// CREATE INDEX CONCURRENTLY is refused. Callers hold s.mu.
func (s *Server) exec(sql string, inFunction bool) error {
	s.executed = append(s.executed, sql)

	stmts, err := plan.Inspect(sql)
	if err != nil {
		return sqlError("42601", "syntax error: %v", err)
	}
	for _, st := range stmts {
		if st.Kind == plan.StmtCreateIndex && st.Concurrent && inFunction {
			return sqlError("25001", "CREATE INDEX CONCURRENTLY cannot be executed from a function")
		}
		if err := s.apply(st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) lookup(st plan.Statement) (*table, error) {
	if st.Schema != "" && st.Schema != plan.Schema {
		return nil, sqlError("3F000", "schema %q does not exist", st.Schema)
	}
	t, ok := s.tables[st.Table]
	if !ok {
		return nil, sqlError("42P01", "relation \"public.%s\" does not exist", st.Table)
	}
	return t, nil
}

func (s *Server) checkColumns(t *table, cols []string) error {
	for _, c := range cols {
		if !t.has(c) {
			return sqlError("42703", "column \"%s\" does not exist", c)
		}
	}
	return nil
}

func (s *Server) apply(st plan.Statement) error {
	switch st.Kind {
	case plan.StmtAddColumn:
		t, err := s.lookup(st)
		if err != nil {
			return err
		}
		if t.has(st.Name) {
			if st.IfNotExists {
				return nil
			}
			return sqlError("42701", "column \"%s\" of relation \"%s\" already exists", st.Name, t.name)
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(t.name), quote(st.Name))); err != nil {
			return sqlError("XX000", "%v", err)
		}
		t.add(st.Name, typeForPG(st.ColumnType))
		return nil

	case plan.StmtCreateIndex:
		t, err := s.lookup(st)
		if err != nil {
			return err
		}
		if _, exists := s.indexes[st.Name]; exists {
			if st.IfNotExists {
				return nil
			}
			return sqlError("42P07", "relation \"%s\" already exists", st.Name)
		}
		if err := s.checkColumns(t, st.Columns); err != nil {
			return err
		}
		s.indexes[st.Name] = t.name
		return nil

	case plan.StmtAddConstraint:
		t, err := s.lookup(st)
		if err != nil {
			return err
		}
		if _, exists := s.constraints[st.Name]; exists {
			return sqlError("42710", "constraint \"%s\" for relation \"%s\" already exists", st.Name, t.name)
		}
		if err := s.checkColumns(t, st.Columns); err != nil {
			return err
		}
		s.constraints[st.Name] = t.name
		return nil

	case plan.StmtNotify:
		if st.Name == "pgrst" {
			s.reloads++
		}
		return nil

	case plan.StmtSelect:
		return nil
	}
	return sqlError("0A000", "statement not supported: %s", st.SQL)
}
