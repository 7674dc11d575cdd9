// ABOUTME: PostgREST query construction: select lists, filters, ordering and paging.
// ABOUTME: Filters render as column=op.value query parameters.
package rest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Record is one decoded row.
type Record map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Filter is a single PostgREST horizontal filter, e.g. user_id=eq.abc.
type Filter struct {
	Column string
	Op     string // eq, neq, gt, gte, lt, lte, is, in, optionally prefixed with "not."
	Value  string
}

func (f Filter) String() string {
	return f.Column + "=" + f.Op + "." + f.Value
}

// Eq builds column=eq.value.
func Eq(column, value string) Filter { return Filter{Column: column, Op: "eq", Value: value} }

// Gt builds column=gt.value.
func Gt(column, value string) Filter { return Filter{Column: column, Op: "gt", Value: value} }

// IsNull builds column=is.null.
func IsNull(column string) Filter { return Filter{Column: column, Op: "is", Value: "null"} }

// NotNull builds column=not.is.null.
func NotNull(column string) Filter { return Filter{Column: column, Op: "not.is", Value: "null"} }

// In builds column=in.(v1,v2,...). Values containing reserved characters are double-quoted.
func In(column string, values ...string) Filter {
	quoted := make([]string, len(values))
	for i, v := range values {
		if strings.ContainsAny(v, `,()" `) {
			v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		quoted[i] = v
	}
	return Filter{Column: column, Op: "in", Value: "(" + strings.Join(quoted, ",") + ")"}
}

// ParseFilter parses "column=op.value" as written in plan files.
func ParseFilter(s string) (Filter, error) {
	col, rest, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("filter %q: want column=op.value", s)
	}
	negate := strings.HasPrefix(rest, "not.")
	rest = strings.TrimPrefix(rest, "not.")
	op, val, ok := strings.Cut(rest, ".")
	if !ok {
		return Filter{}, fmt.Errorf("filter %q: missing operator", s)
	}
	switch op {
	case "eq", "neq", "gt", "gte", "lt", "lte", "is", "in", "like", "ilike":
	default:
		return Filter{}, fmt.Errorf("filter %q: unsupported operator %q", s, op)
	}
	if negate {
		op = "not." + op
	}
	return Filter{Column: col, Op: op, Value: val}, nil
}

// Query describes a select.
type Query struct {
	Select  []string
	Filters []Filter
	Order   string // e.g. "id.asc" or "hybrid_score.desc.nullslast"
	Limit   int
	Offset  int
}

// Values encodes the query as URL parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Select) > 0 {
		v.Set("select", strings.Join(q.Select, ","))
	}
	for _, f := range q.Filters {
		v.Add(f.Column, f.Op+"."+f.Value)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

func filterValues(filters []Filter) url.Values {
	return Query{Filters: filters}.Values()
}
