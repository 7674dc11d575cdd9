// ABOUTME: Determines whether a column or table is present by issuing a narrow select.
// ABOUTME: Presence is read from the error classification, never from row counts.
package probe

import (
	"context"
	"fmt"

	"github.com/harperreed/profilectl/internal/rest"
)

// Selecter is the slice of the REST client the probe needs.
type Selecter interface {
	Select(ctx context.Context, table string, q rest.Query) ([]rest.Record, error)
}

// Outcome is the result of a probe.
type Outcome string

const (
	Present       Outcome = "present"
	MissingColumn Outcome = "missing_column"
	MissingTable  Outcome = "missing_table"
	Undetermined  Outcome = "undetermined"
)

// Result describes a probe. Kind and Err are set when Outcome is Undetermined.
type Result struct {
	Table   string
	Column  string
	Outcome Outcome
	Kind    rest.Kind
	Err     error
}

func (r Result) String() string {
	target := r.Table
	if r.Column != "" {
		target += "." + r.Column
	}
	if r.Outcome == Undetermined {
		return fmt.Sprintf("%s: undetermined (%s)", target, r.Kind)
	}
	return fmt.Sprintf("%s: %s", target, r.Outcome)
}

// Exists reports whether the probed object is present.
func (r Result) Exists() bool { return r.Outcome == Present }

// Column probes table.column with select=column&limit=1.
func Column(ctx context.Context, c Selecter, table, column string) Result {
	_, err := c.Select(ctx, table, rest.Query{Select: []string{column}, Limit: 1})
	return interpret(table, column, err)
}

// Table probes table with select=id&limit=1.
func Table(ctx context.Context, c Selecter, table string) Result {
	_, err := c.Select(ctx, table, rest.Query{Select: []string{"id"}, Limit: 1})
	r := interpret(table, "", err)
	// A table without an id column is still present.
	if r.Outcome == MissingColumn {
		r.Outcome = Present
	}
	return r
}

// ColumnExists is a convenience wrapper returning presence and any
// undetermined failure.
func ColumnExists(ctx context.Context, c Selecter, table, column string) (bool, error) {
	r := Column(ctx, c, table, column)
	switch r.Outcome {
	case Present:
		return true, nil
	case MissingColumn:
		return false, nil
	case MissingTable:
		return false, fmt.Errorf("table %s: %w", table, r.Err)
	default:
		return false, r.Err
	}
}

func interpret(table, column string, err error) Result {
	r := Result{Table: table, Column: column}
	if err == nil {
		r.Outcome = Present
		return r
	}
	r.Err = err
	r.Kind = rest.KindOf(err)
	switch r.Kind {
	case rest.KindMissingColumn:
		r.Outcome = MissingColumn
	case rest.KindMissingTable:
		r.Outcome = MissingTable
	default:
		r.Outcome = Undetermined
	}
	return r
}
