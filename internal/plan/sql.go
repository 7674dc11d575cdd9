// ABOUTME: SQL rendering for plan operations.
// ABOUTME: Produces idempotent Postgres DDL and backfill statements for advisory output and execution.
package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Schema is the Postgres schema all plan tables live in.
const Schema = "public"

// reserved lists keywords that cannot appear as bare column or table names.
var reserved = map[string]bool{
	"all": true, "and": true, "check": true, "column": true, "constraint": true,
	"default": true, "from": true, "group": true, "order": true, "select": true,
	"table": true, "to": true, "user": true, "where": true, "with": true,
}

// QuoteIdent renders an identifier, quoting it only when required.
func QuoteIdent(name string) string {
	if identRe.MatchString(name) && !reserved[name] {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedTable renders public.<table>.
func QualifiedTable(table string) string {
	return Schema + "." + QuoteIdent(table)
}

// Literal renders a Go value decoded from YAML or JSON as a SQL literal.
// Arrays and objects become jsonb literals.
func Literal(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case string:
		return quoteString(val), nil
	case []any, map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encode json literal: %w", err)
		}
		return quoteString(string(data)) + "::jsonb", nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQL renders the statement that applies the operation. Every rendering is
// safe to rerun: IF NOT EXISTS guards for columns and indexes, IS NULL
// targeting for backfills. Re-adding a check fails with already_exists,
// which callers treat as present.
func (o Operation) SQL() (string, error) {
	switch o.Op {
	case AddColumn:
		var b strings.Builder
		fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			QualifiedTable(o.Table), QuoteIdent(o.Column), o.Type)
		if o.Default != "" {
			b.WriteString(" DEFAULT " + o.Default)
		}
		if o.Constraint != "" {
			b.WriteString(" " + o.Constraint)
		}
		return b.String(), nil

	case CreateIndex:
		var b strings.Builder
		b.WriteString("CREATE ")
		if o.Unique {
			b.WriteString("UNIQUE ")
		}
		b.WriteString("INDEX ")
		if o.IsConcurrent() {
			b.WriteString("CONCURRENTLY ")
		}
		fmt.Fprintf(&b, "IF NOT EXISTS %s ON %s (%s)", QuoteIdent(o.Name), QualifiedTable(o.Table), o.Expression)
		if o.Predicate != "" {
			b.WriteString(" WHERE " + o.Predicate)
		}
		return b.String(), nil

	case SetDefaultWhereNull:
		lit, err := Literal(o.Value)
		if err != nil {
			return "", err
		}
		col := QuoteIdent(o.Column)
		return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", QualifiedTable(o.Table), col, lit, col), nil

	case AddCheck:
		return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)",
			QualifiedTable(o.Table), QuoteIdent(o.Name), o.Predicate), nil
	}
	return "", fmt.Errorf("unknown op %q", o.Op)
}

// MustSQL renders the operation and panics on error. Only for validated plans.
func (o Operation) MustSQL() string {
	s, err := o.SQL()
	if err != nil {
		panic(err)
	}
	return s
}

// expectedKind is the statement kind each operation must render to.
var expectedKind = map[Kind]StatementKind{
	AddColumn:           StmtAddColumn,
	CreateIndex:         StmtCreateIndex,
	SetDefaultWhereNull: StmtUpdate,
	AddCheck:            StmtAddConstraint,
}

// validateSQL renders the operation and parses it, rejecting anything other
// than exactly one statement of the expected kind against the expected table.
func (o Operation) validateSQL() error {
	sql, err := o.SQL()
	if err != nil {
		return err
	}
	stmts, err := Inspect(sql)
	if err != nil {
		return fmt.Errorf("invalid SQL %q: %w", sql, err)
	}
	if len(stmts) != 1 {
		return fmt.Errorf("renders to %d statements, want 1: %s", len(stmts), sql)
	}
	st := stmts[0]
	if st.Kind != expectedKind[o.Op] {
		return fmt.Errorf("renders to a %s statement, want %s: %s", st.Kind, expectedKind[o.Op], sql)
	}
	if st.Table != o.Table {
		return fmt.Errorf("targets table %q, want %q", st.Table, o.Table)
	}
	return nil
}

// Script renders operations as a semicolon-terminated SQL script for an
// operator to run by hand. Statements are independent; run them outside a
// transaction since CREATE INDEX CONCURRENTLY refuses transaction blocks.
func Script(ops []Operation) (string, error) {
	var b strings.Builder
	for _, op := range ops {
		sql, err := op.SQL()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		fmt.Fprintf(&b, "-- %s\n%s;\n\n", op, sql)
	}
	return b.String(), nil
}
