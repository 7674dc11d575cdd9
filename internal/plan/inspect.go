// ABOUTME: Statement inspection backed by the Postgres parser (pg_query).
// ABOUTME: Splits SQL text and summarizes each statement's kind, target and guards.
package plan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v6"
)

// StatementKind classifies a parsed statement.
type StatementKind string

const (
	StmtAddColumn     StatementKind = "add_column"
	StmtAddConstraint StatementKind = "add_constraint"
	StmtCreateIndex   StatementKind = "create_index"
	StmtUpdate        StatementKind = "update"
	StmtSelect        StatementKind = "select"
	StmtNotify        StatementKind = "notify"
	StmtOther         StatementKind = "other"
)

// Statement summarizes one parsed statement. An ALTER TABLE with several
// commands yields one Statement per command.
type Statement struct {
	Kind        StatementKind
	SQL         string
	Schema      string
	Table       string
	Name        string // column, index or constraint name
	ColumnType  string // last type name component for add_column, e.g. "bool"
	IfNotExists bool
	Concurrent  bool
	Unique      bool

	// Columns lists column references in index keys, index predicates and
	// check expressions.
	Columns []string
}

type parseResult struct {
	Stmts []struct {
		Stmt map[string]json.RawMessage `json:"stmt"`
	} `json:"stmts"`
}

type rangeVar struct {
	Schemaname string `json:"schemaname"`
	Relname    string `json:"relname"`
}

type stringNode struct {
	String struct {
		Sval string `json:"sval"`
		Str  string `json:"str"`
	} `json:"String"`
}

func (n stringNode) value() string {
	if n.String.Sval != "" {
		return n.String.Sval
	}
	return n.String.Str
}

// Inspect parses SQL text into statement summaries. It fails if any
// statement does not parse.
func Inspect(sql string) ([]Statement, error) {
	parts, err := pgquery.SplitWithParser(sql, true)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	var out []Statement
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		parsed, err := pgquery.ParseToJSON(part)
		if err != nil {
			return nil, err
		}
		var pr parseResult
		if err := json.Unmarshal([]byte(parsed), &pr); err != nil {
			return nil, fmt.Errorf("decode parse tree: %w", err)
		}
		for _, st := range pr.Stmts {
			for kind, payload := range st.Stmt {
				stmts, err := summarize(kind, payload)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", kind, err)
				}
				for i := range stmts {
					stmts[i].SQL = part
				}
				out = append(out, stmts...)
			}
		}
	}
	return out, nil
}

func summarize(kind string, raw json.RawMessage) ([]Statement, error) {
	switch kind {
	case "AlterTableStmt":
		return summarizeAlterTable(raw)
	case "IndexStmt":
		var node struct {
			Idxname     string          `json:"idxname"`
			Relation    rangeVar        `json:"relation"`
			IndexParams json.RawMessage `json:"indexParams"`
			WhereClause json.RawMessage `json:"whereClause"`
			Unique      bool            `json:"unique"`
			Concurrent  bool            `json:"concurrent"`
			IfNotExists bool            `json:"if_not_exists"`
		}
		if err := json.Unmarshal(raw, &node); err != nil {
			return nil, err
		}
		return []Statement{{
			Kind:        StmtCreateIndex,
			Schema:      node.Relation.Schemaname,
			Table:       node.Relation.Relname,
			Name:        node.Idxname,
			Unique:      node.Unique,
			Concurrent:  node.Concurrent,
			IfNotExists: node.IfNotExists,
			Columns:     columnRefs(node.IndexParams, node.WhereClause),
		}}, nil
	case "UpdateStmt":
		var node struct {
			Relation rangeVar `json:"relation"`
		}
		if err := json.Unmarshal(raw, &node); err != nil {
			return nil, err
		}
		return []Statement{{Kind: StmtUpdate, Schema: node.Relation.Schemaname, Table: node.Relation.Relname}}, nil
	case "NotifyStmt":
		var node struct {
			Conditionname string `json:"conditionname"`
		}
		if err := json.Unmarshal(raw, &node); err != nil {
			return nil, err
		}
		return []Statement{{Kind: StmtNotify, Name: node.Conditionname}}, nil
	case "SelectStmt":
		return []Statement{{Kind: StmtSelect}}, nil
	default:
		return []Statement{{Kind: StmtOther, Name: kind}}, nil
	}
}

func summarizeAlterTable(raw json.RawMessage) ([]Statement, error) {
	var node struct {
		Relation rangeVar `json:"relation"`
		Cmds     []struct {
			AlterTableCmd struct {
				Subtype   string          `json:"subtype"`
				Name      string          `json:"name"`
				Def       json.RawMessage `json:"def"`
				MissingOk bool            `json:"missing_ok"`
			} `json:"AlterTableCmd"`
		} `json:"cmds"`
	}
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}

	var out []Statement
	for _, c := range node.Cmds {
		cmd := c.AlterTableCmd
		st := Statement{
			Kind:   StmtOther,
			Schema: node.Relation.Schemaname,
			Table:  node.Relation.Relname,
			Name:   cmd.Name,
		}
		switch cmd.Subtype {
		case "AT_AddColumn":
			var def struct {
				ColumnDef struct {
					Colname  string `json:"colname"`
					TypeName struct {
						Names []stringNode `json:"names"`
					} `json:"typeName"`
				} `json:"ColumnDef"`
			}
			if err := json.Unmarshal(cmd.Def, &def); err != nil {
				return nil, err
			}
			st.Kind = StmtAddColumn
			st.Name = def.ColumnDef.Colname
			st.IfNotExists = cmd.MissingOk
			if names := def.ColumnDef.TypeName.Names; len(names) > 0 {
				st.ColumnType = names[len(names)-1].value()
			}
		case "AT_AddConstraint":
			var def struct {
				Constraint struct {
					Contype string `json:"contype"`
					Conname string `json:"conname"`
				} `json:"Constraint"`
			}
			if err := json.Unmarshal(cmd.Def, &def); err != nil {
				return nil, err
			}
			st.Kind = StmtAddConstraint
			st.Name = def.Constraint.Conname
			st.Columns = columnRefs(cmd.Def)
		}
		out = append(out, st)
	}
	return out, nil
}

// columnRefs collects the distinct column names referenced in parse-tree
// fragments, in first-seen order. Index keys appear as IndexElem names,
// expressions as ColumnRef nodes.
func columnRefs(fragments ...json.RawMessage) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case map[string]any:
			if elem, ok := n["IndexElem"].(map[string]any); ok {
				if name, ok := elem["name"].(string); ok {
					add(name)
				}
			}
			if ref, ok := n["ColumnRef"].(map[string]any); ok {
				if fields, ok := ref["fields"].([]any); ok && len(fields) > 0 {
					if f, ok := fields[len(fields)-1].(map[string]any); ok {
						if s, ok := f["String"].(map[string]any); ok {
							name, _ := s["sval"].(string)
							if name == "" {
								name, _ = s["str"].(string)
							}
							add(name)
						}
					}
				}
			}
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(n[k])
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	for _, frag := range fragments {
		if len(frag) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(frag, &v); err != nil {
			continue
		}
		walk(v)
	}
	return out
}
