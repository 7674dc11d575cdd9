// ABOUTME: Per-step outcomes of a migration run and the aggregated report.
// ABOUTME: Distinguishes applied, already present, pending (advisory) and failed steps.
package migrate

import (
	"fmt"
	"strings"

	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/rest"
)

// Status is the outcome of one step.
type Status string

const (
	Applied        Status = "applied"
	AlreadyPresent Status = "already_present"
	Pending        Status = "pending"
	Failed         Status = "failed"
)

// StepResult records what happened to one operation. SQL is set for pending
// steps so an operator can run it by hand.
type StepResult struct {
	Op     plan.Operation
	Status Status
	SQL    string
	Path   rest.ExecPath
	Detail string
	Err    error
	Rows   int
}

func (s StepResult) String() string {
	out := fmt.Sprintf("%s: %s", s.Op, s.Status)
	if s.Detail != "" {
		out += " (" + s.Detail + ")"
	}
	return out
}

// Report aggregates a run.
type Report struct {
	RunID  string
	DryRun bool
	Steps  []StepResult
}

func (r *Report) add(s StepResult) {
	r.Steps = append(r.Steps, s)
}

// Merge appends the steps of other.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Steps = append(r.Steps, other.Steps...)
}

// Counts tallies steps by status.
func (r *Report) Counts() map[Status]int {
	counts := map[Status]int{}
	for _, s := range r.Steps {
		counts[s.Status]++
	}
	return counts
}

// OK reports whether every step is applied or already present.
func (r *Report) OK() bool {
	c := r.Counts()
	return c[Failed] == 0 && c[Pending] == 0
}

// HasFailures reports whether any step failed.
func (r *Report) HasFailures() bool {
	return r.Counts()[Failed] > 0
}

// ByStatus returns the steps with status s, in run order.
func (r *Report) ByStatus(s Status) []StepResult {
	var out []StepResult
	for _, step := range r.Steps {
		if step.Status == s {
			out = append(out, step)
		}
	}
	return out
}

// PendingSQL returns the statements of pending steps as a script.
func (r *Report) PendingSQL() string {
	var b strings.Builder
	for _, s := range r.ByStatus(Pending) {
		if s.SQL == "" {
			continue
		}
		fmt.Fprintf(&b, "-- %s\n%s;\n\n", s.Op, s.SQL)
	}
	return b.String()
}

// Summary is a one-line tally such as "3 applied, 1 pending".
func (r *Report) Summary() string {
	c := r.Counts()
	var parts []string
	for _, s := range []Status{Applied, AlreadyPresent, Pending, Failed} {
		if c[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c[s], strings.ReplaceAll(string(s), "_", " ")))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}
