// ABOUTME: Parses PostgREST select lists, horizontal filters and ordering into SQLite clauses.
// ABOUTME: Supports embeds of the form alias:table!fk(cols) for to-one relations.
package fakerest

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// reserved query parameters that are not filters.
var reserved = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"columns":     true,
	"on_conflict": true,
}

type selectItem struct {
	alias  string
	column string
	embed  *embed
}

type embed struct {
	table string
	fk    string
	cols  []string
}

func badRequest(format string, args ...any) *pgError {
	return &pgError{Status: http.StatusBadRequest, Code: "PGRST100", Message: fmt.Sprintf(format, args...)}
}

// splitTop splits s on commas outside parentheses and double quotes.
func splitTop(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseSelect(raw string) ([]selectItem, error) {
	if raw == "" || raw == "*" {
		return nil, nil
	}
	var items []selectItem
	for _, part := range splitTop(raw) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		alias := ""
		if a, rest, ok := strings.Cut(part, ":"); ok && !strings.Contains(a, "(") {
			alias, part = a, rest
		}
		head, inner, isEmbed := strings.Cut(part, "(")
		if !isEmbed {
			if alias == "" {
				alias = part
			}
			items = append(items, selectItem{alias: alias, column: part})
			continue
		}
		if !strings.HasSuffix(inner, ")") {
			return nil, badRequest("failed to parse select parameter (%s)", raw)
		}
		inner = strings.TrimSuffix(inner, ")")
		rel, fk, _ := strings.Cut(head, "!")
		if fk == "" {
			fk = strings.TrimSuffix(rel, "s") + "_id"
		}
		if alias == "" {
			alias = rel
		}
		var cols []string
		for _, c := range strings.Split(inner, ",") {
			if c = strings.TrimSpace(c); c != "" && c != "*" {
				cols = append(cols, c)
			}
		}
		items = append(items, selectItem{alias: alias, embed: &embed{table: rel, fk: fk, cols: cols}})
	}
	return items, nil
}

type filter struct {
	column string
	expr   string
}

func filtersFrom(q url.Values) []filter {
	var out []filter
	for key, values := range q {
		if reserved[key] {
			continue
		}
		for _, v := range values {
			out = append(out, filter{column: key, expr: v})
		}
	}
	return out
}

var comparisons = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// where renders filters as a SQLite condition over t.
func where(t *table, filters []filter) (string, []any, error) {
	var clauses []string
	var args []any
	for _, f := range filters {
		typ, ok := t.types[f.column]
		if !ok {
			return "", nil, missingColumn(t.name, f.column)
		}
		col := quote(f.column)
		expr := f.expr
		negate := strings.HasPrefix(expr, "not.")
		expr = strings.TrimPrefix(expr, "not.")
		op, val, ok := strings.Cut(expr, ".")
		if !ok {
			return "", nil, badRequest("failed to parse filter (%s)", f.expr)
		}

		var clause string
		switch op {
		case "eq", "neq", "gt", "gte", "lt", "lte":
			v, err := toDB(typ, val)
			if err != nil {
				return "", nil, err
			}
			clause = col + " " + comparisons[op] + " ?"
			args = append(args, v)
		case "is":
			switch val {
			case "null":
				clause = col + " IS NULL"
			case "true":
				clause = col + " = 1"
			case "false":
				clause = col + " = 0"
			default:
				return "", nil, badRequest("failed to parse filter (%s)", f.expr)
			}
		case "in":
			items, err := parseList(val)
			if err != nil {
				return "", nil, err
			}
			marks := make([]string, len(items))
			for i, item := range items {
				v, err := toDB(typ, item)
				if err != nil {
					return "", nil, err
				}
				marks[i] = "?"
				args = append(args, v)
			}
			clause = col + " IN (" + strings.Join(marks, ", ") + ")"
		case "like", "ilike":
			clause = col + " LIKE ?"
			args = append(args, strings.ReplaceAll(val, "*", "%"))
		default:
			return "", nil, badRequest("unknown operator %q", op)
		}
		if negate {
			clause = "NOT (" + clause + ")"
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// parseList parses an in-list such as (a,b,"c d").
func parseList(val string) ([]string, error) {
	if !strings.HasPrefix(val, "(") || !strings.HasSuffix(val, ")") {
		return nil, badRequest("failed to parse in-list (%s)", val)
	}
	inner := val[1 : len(val)-1]
	if inner == "" {
		return nil, nil
	}
	parts := splitTop(inner)
	for i, p := range parts {
		if unq, err := strconv.Unquote(p); err == nil && strings.HasPrefix(p, `"`) {
			p = unq
		}
		parts[i] = p
	}
	return parts, nil
}

// orderBy renders an order parameter such as hybrid_score.desc,id.asc.
func orderBy(t *table, raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	var terms []string
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(part, ".")
		col := fields[0]
		if !t.has(col) {
			return "", missingColumn(t.name, col)
		}
		dir, nulls := "ASC", "NULLS LAST"
		for _, mod := range fields[1:] {
			switch mod {
			case "asc":
				dir, nulls = "ASC", "NULLS LAST"
			case "desc":
				dir, nulls = "DESC", "NULLS FIRST"
			case "nullsfirst":
				nulls = "NULLS FIRST"
			case "nullslast":
				nulls = "NULLS LAST"
			default:
				return "", badRequest("failed to parse order (%s)", raw)
			}
		}
		terms = append(terms, fmt.Sprintf("%s %s %s", quote(col), dir, nulls))
	}
	return strings.Join(terms, ", "), nil
}

func intParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s (%s)", key, raw)
	}
	return n, nil
}
