// ABOUTME: Colored rendering of probe, migration, normalize, seed and verify results.
// ABOUTME: One line per success; failures and pending steps carry a next action.
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/harperreed/profilectl/internal/migrate"
	"github.com/harperreed/profilectl/internal/normalize"
	"github.com/harperreed/profilectl/internal/probe"
	"github.com/harperreed/profilectl/internal/seed"
	"github.com/harperreed/profilectl/internal/verify"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	faint  = color.New(color.Faint)
	bold   = color.New(color.Bold)
)

func printHeader(w io.Writer, title string) {
	if runID != "" {
		fmt.Fprintf(w, "%s %s\n", bold.Sprint(title), faint.Sprintf("(run %s)", runID))
		return
	}
	fmt.Fprintln(w, bold.Sprint(title))
}

func printProbe(w io.Writer, results []probe.Result) {
	for _, r := range results {
		switch r.Outcome {
		case probe.Present:
			fmt.Fprintf(w, "%s %s\n", green.Sprint("✓"), r)
		case probe.MissingColumn, probe.MissingTable:
			fmt.Fprintf(w, "%s %s\n", yellow.Sprint("…"), r)
		default:
			fmt.Fprintf(w, "%s %s\n", red.Sprint("✗"), r)
			if r.Err != nil {
				fmt.Fprintf(w, "  %s\n", faint.Sprint(r.Err))
			}
		}
	}
}

func printMigration(w io.Writer, report *migrate.Report) {
	for _, step := range report.Steps {
		switch step.Status {
		case migrate.Applied:
			line := fmt.Sprintf("%s %s", green.Sprint("✓"), step.Op)
			if step.Path != "" {
				line += faint.Sprintf(" via %s", step.Path)
			}
			if step.Detail != "" {
				line += faint.Sprintf(" (%s)", step.Detail)
			}
			fmt.Fprintln(w, line)
		case migrate.AlreadyPresent:
			fmt.Fprintf(w, "%s %s %s\n", green.Sprint("✓"), step.Op, faint.Sprint("(already present)"))
		case migrate.Pending:
			fmt.Fprintf(w, "%s %s %s\n", yellow.Sprint("…"), step.Op, yellow.Sprintf("pending: %s", step.Detail))
			if step.SQL != "" {
				fmt.Fprintf(w, "  %s\n", faint.Sprint(step.SQL+";"))
			}
		case migrate.Failed:
			fmt.Fprintf(w, "%s %s %s\n", red.Sprint("✗"), step.Op, red.Sprint(failureDetail(step)))
		}
	}
	fmt.Fprintf(w, "%s\n", faint.Sprint(report.Summary()))

	if pending := report.PendingSQL(); pending != "" && !report.DryRun {
		fmt.Fprintln(w)
		yellow.Fprintln(w, "Run this SQL in the project's SQL editor, then rerun:")
		fmt.Fprint(w, pending)
	}
}

func failureDetail(step migrate.StepResult) string {
	parts := []string{}
	if step.Detail != "" {
		parts = append(parts, step.Detail)
	}
	if step.Err != nil && (step.Detail == "" || !strings.Contains(step.Detail, step.Err.Error())) {
		parts = append(parts, step.Err.Error())
	}
	if len(parts) == 0 {
		return "failed"
	}
	return strings.Join(parts, ": ")
}

func printStats(w io.Writer, stats *normalize.Stats, dryRun bool) {
	prefix := green.Sprint("✓")
	if dryRun {
		prefix = yellow.Sprint("…") + faint.Sprint(" dry run:")
	}
	fmt.Fprintf(w, "%s %s\n", prefix, stats)
}

func printSeeded(w io.Writer, seeded []seed.Seeded) {
	for _, s := range seeded {
		fmt.Fprintf(w, "%s %-8s %5.1f %s\n", green.Sprint("✓"), s.Slug, s.HybridScore, faint.Sprint(s.UserID))
	}
}

func printVerify(w io.Writer, report *verify.Report) {
	for _, c := range report.Checks {
		switch c.Status {
		case verify.Pass:
			fmt.Fprintf(w, "%s %s %s\n", green.Sprint("✓"), c.Name, faint.Sprintf("(%s)", c.Detail))
		case verify.Skip:
			fmt.Fprintf(w, "%s %s %s\n", faint.Sprint("-"), c.Name, faint.Sprintf("skipped: %s", c.Detail))
		case verify.Fail:
			fmt.Fprintf(w, "%s %s %s\n", red.Sprint("✗"), c.Name, red.Sprint(c.Detail))
		}
	}
}
