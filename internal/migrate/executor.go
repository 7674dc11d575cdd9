// ABOUTME: Applies plan operations one at a time, probe-guarded and idempotent.
// ABOUTME: Steps with no SQL path become pending with their SQL instead of failing the run.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/probe"
	"github.com/harperreed/profilectl/internal/rest"
)

// ErrAborted is returned when a run stops early: credentials were rejected
// or the context was cancelled. The report still lists every step.
var ErrAborted = errors.New("migration run aborted")

// sqlStateActiveTransaction is raised when CREATE INDEX CONCURRENTLY runs
// inside a function or transaction block.
const sqlStateActiveTransaction = "25001"

// Client is the slice of the REST client the executor needs.
type Client interface {
	probe.Selecter
	Update(ctx context.Context, table string, patch any, filters ...rest.Filter) ([]rest.Record, error)
	ApplySQL(ctx context.Context, sql string) (rest.ExecPath, error)
	ReloadSchema(ctx context.Context) error
}

// Executor runs operations sequentially against a client.
type Executor struct {
	client Client
	logger *log.Logger
	runID  string
	dryRun bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithRunID stamps reports with id.
func WithRunID(id string) Option {
	return func(e *Executor) { e.runID = id }
}

// WithDryRun reports what would change without writing.
func WithDryRun(dry bool) Option {
	return func(e *Executor) { e.dryRun = dry }
}

// New creates an Executor.
func New(c Client, opts ...Option) *Executor {
	e := &Executor{client: c, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run tracks cross-step state within one Run.
type run struct {
	missingTables map[string]bool
	// unconfirmed holds columns whose add_column step did not end present.
	unconfirmed map[string]map[string]bool
}

func (r *run) markUnconfirmed(table, column string) {
	if r.unconfirmed[table] == nil {
		r.unconfirmed[table] = map[string]bool{}
	}
	r.unconfirmed[table][column] = true
}

func (r *run) hasUnconfirmed(table string) bool {
	return len(r.unconfirmed[table]) > 0
}

// Run applies ops in the given order. It returns ErrAborted (wrapped) when
// the run stops early; pending and failed steps alone are not errors.
func (e *Executor) Run(ctx context.Context, ops []plan.Operation) (*Report, error) {
	report := &Report{RunID: e.runID, DryRun: e.dryRun}
	state := &run{missingTables: map[string]bool{}, unconfirmed: map[string]map[string]bool{}}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			e.abortRemaining(report, ops[i:], err)
			return report, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		if state.missingTables[op.Table] {
			report.add(StepResult{Op: op, Status: Failed, Detail: "table " + op.Table + " is missing"})
			continue
		}

		var step StepResult
		var err error
		switch op.Op {
		case plan.AddColumn:
			step, err = e.addColumn(ctx, state, op)
		case plan.SetDefaultWhereNull:
			step, err = e.setDefault(ctx, state, op)
		case plan.CreateIndex:
			step, err = e.applyDDL(ctx, state, op)
		case plan.AddCheck:
			step, err = e.addCheck(ctx, state, op)
		default:
			step = StepResult{Op: op, Status: Failed, Detail: fmt.Sprintf("unknown op %q", op.Op)}
		}
		if err != nil {
			step.Status, step.Err = Failed, err
			report.add(step)
			e.abortRemaining(report, ops[i+1:], err)
			return report, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		e.logger.Debug("step", "op", op.String(), "status", step.Status, "detail", step.Detail)
		report.add(step)
	}
	return report, nil
}

func (e *Executor) abortRemaining(report *Report, ops []plan.Operation, cause error) {
	for _, op := range ops {
		report.add(StepResult{Op: op, Status: Failed, Detail: "not attempted: run aborted", Err: cause})
	}
}

// fatal reports whether err must stop the whole run.
func fatal(err error) bool {
	return rest.IsKind(err, rest.KindUnauthorized)
}

func (e *Executor) addColumn(ctx context.Context, state *run, op plan.Operation) (StepResult, error) {
	step := StepResult{Op: op, SQL: op.MustSQL()}

	before := probe.Column(ctx, e.client, op.Table, op.Column)
	switch before.Outcome {
	case probe.Present:
		step.Status = AlreadyPresent
		return step, nil
	case probe.MissingTable:
		state.missingTables[op.Table] = true
		step.Status, step.Err = Failed, before.Err
		step.Detail = "table " + op.Table + " is missing"
		return step, nil
	case probe.Undetermined:
		if fatal(before.Err) {
			return step, before.Err
		}
		state.markUnconfirmed(op.Table, op.Column)
		step.Status, step.Err = Failed, before.Err
		step.Detail = "probe failed: " + string(before.Kind)
		return step, nil
	}

	// Column is missing.
	state.markUnconfirmed(op.Table, op.Column)
	if e.dryRun {
		step.Status, step.Detail = Pending, "column missing"
		return step, nil
	}

	path, err := e.client.ApplySQL(ctx, step.SQL)
	step.Path = path
	switch {
	case err == nil, rest.IsKind(err, rest.KindAlreadyExists):
	case fatal(err):
		return step, err
	case errors.Is(err, rest.ErrNoExecPath):
		step.Status, step.Detail = Pending, "no SQL path; run manually"
		e.logger.Debug("advisory", "op", op.String(), "reason", err)
		return step, nil
	default:
		step.Status, step.Err = Failed, err
		return step, nil
	}

	if err := e.client.ReloadSchema(ctx); err != nil {
		e.logger.Warn("schema reload failed", "err", err)
	}

	after := probe.Column(ctx, e.client, op.Table, op.Column)
	if after.Exists() {
		delete(state.unconfirmed[op.Table], op.Column)
		step.Status = Applied
		return step, nil
	}
	if fatal(after.Err) {
		return step, after.Err
	}
	step.Status, step.Err = Failed, after.Err
	step.Detail = "column not visible after apply: " + string(after.Outcome)
	return step, nil
}

func (e *Executor) setDefault(ctx context.Context, state *run, op plan.Operation) (StepResult, error) {
	step := StepResult{Op: op, SQL: op.MustSQL()}
	if state.unconfirmed[op.Table][op.Column] {
		step.Status, step.Detail = Pending, "waits for add_column "+op.Target()
		return step, nil
	}

	if e.dryRun {
		rows, err := e.client.Select(ctx, op.Table, rest.Query{Select: []string{"id"}, Filters: []rest.Filter{rest.IsNull(op.Column)}})
		if err != nil {
			return e.dataFailure(state, step, err)
		}
		if len(rows) == 0 {
			step.Status = AlreadyPresent
			return step, nil
		}
		step.Status, step.Rows = Pending, len(rows)
		step.Detail = fmt.Sprintf("would update %d rows", len(rows))
		return step, nil
	}

	rows, err := e.client.Update(ctx, op.Table, map[string]any{op.Column: op.Value}, rest.IsNull(op.Column))
	if err != nil {
		return e.dataFailure(state, step, err)
	}
	step.Rows = len(rows)
	if len(rows) == 0 {
		step.Status = AlreadyPresent
		return step, nil
	}
	step.Status = Applied
	step.Detail = fmt.Sprintf("updated %d rows", len(rows))
	return step, nil
}

// dataFailure classifies a data-surface error for a step.
func (e *Executor) dataFailure(state *run, step StepResult, err error) (StepResult, error) {
	if fatal(err) {
		return step, err
	}
	step.Status, step.Err = Failed, err
	switch rest.KindOf(err) {
	case rest.KindMissingTable:
		state.missingTables[step.Op.Table] = true
		step.Detail = "table " + step.Op.Table + " is missing"
	case rest.KindMissingColumn:
		step.Detail = "column missing"
	case rest.KindConstraintViolation:
		step.Detail = "constraint violation"
	}
	return step, nil
}

// applyDDL runs statements whose presence cannot be probed over REST.
func (e *Executor) applyDDL(ctx context.Context, state *run, op plan.Operation) (StepResult, error) {
	step := StepResult{Op: op, SQL: op.MustSQL()}
	if e.dryRun {
		step.Status, step.Detail = Pending, "dry run"
		return step, nil
	}

	path, err := e.client.ApplySQL(ctx, step.SQL)
	step.Path = path
	var re *rest.Error
	switch {
	case err == nil:
		step.Status = Applied
	case fatal(err):
		return step, err
	case rest.IsKind(err, rest.KindAlreadyExists):
		step.Status = AlreadyPresent
	case errors.Is(err, rest.ErrNoExecPath):
		step.Status, step.Detail = Pending, "no SQL path; run manually"
	case errors.As(err, &re) && re.Code == sqlStateActiveTransaction:
		step.Status, step.Detail = Pending, "must run outside a transaction; run manually"
	case rest.IsKind(err, rest.KindMissingColumn) && state.hasUnconfirmed(op.Table):
		step.Status, step.Detail = Pending, "waits for columns on "+op.Table
	case rest.IsKind(err, rest.KindMissingTable):
		state.missingTables[op.Table] = true
		step.Status, step.Err, step.Detail = Failed, err, "table "+op.Table+" is missing"
	case rest.IsKind(err, rest.KindConstraintViolation):
		step.Status, step.Err, step.Detail = Failed, err, "existing rows violate "+op.Predicate
	default:
		step.Status, step.Err = Failed, err
	}
	return step, nil
}

func (e *Executor) addCheck(ctx context.Context, state *run, op plan.Operation) (StepResult, error) {
	if state.hasUnconfirmed(op.Table) {
		return StepResult{Op: op, SQL: op.MustSQL(), Status: Pending, Detail: "waits for columns on " + op.Table}, nil
	}
	if op.Offenders != "" {
		step := StepResult{Op: op, SQL: op.MustSQL()}
		f, err := rest.ParseFilter(op.Offenders)
		if err != nil {
			step.Status, step.Err = Failed, err
			return step, nil
		}
		rows, err := e.client.Select(ctx, op.Table, rest.Query{Select: []string{"id"}, Filters: []rest.Filter{f}, Limit: 1})
		if err != nil {
			return e.dataFailure(state, step, err)
		}
		if len(rows) > 0 {
			step.Status = Failed
			step.Detail = fmt.Sprintf("rows violate %s, e.g. id %s", op.Predicate, rows[0].String("id"))
			step.Err = &rest.Error{Kind: rest.KindConstraintViolation, Message: step.Detail}
			return step, nil
		}
	}
	return e.applyDDL(ctx, state, op)
}
