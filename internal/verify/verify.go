// ABOUTME: Read-only post-run checks over the data surface and the sibling backend.
// ABOUTME: Each check passes, fails or is skipped with a short diagnostic; nothing is written.
package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/harperreed/profilectl/internal/models"
	"github.com/harperreed/profilectl/internal/normalize"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/probe"
	"github.com/harperreed/profilectl/internal/rest"
)

// Status is a check outcome.
type Status string

const (
	Pass Status = "pass"
	Fail Status = "fail"
	Skip Status = "skip"
)

// Check is one verification result.
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Report collects checks in the order they ran.
type Report struct {
	Checks []Check
}

func (r *Report) add(name string, status Status, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
}

// OK reports whether no check failed.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failing checks.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if c.Status == Fail {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the check named name.
func (r *Report) Find(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Verifier runs the checks. It only needs to read.
type Verifier struct {
	client     probe.Selecter
	plan       *plan.Plan
	backendURL string
	http       *http.Client
	pageSize   int
	logger     *log.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithBackend enables the backend checks against baseURL.
func WithBackend(baseURL string, hc *http.Client) Option {
	return func(v *Verifier) {
		v.backendURL = strings.TrimRight(baseURL, "/")
		if hc != nil {
			v.http = hc
		}
	}
}

// WithPageSize sets rows per page for table scans.
func WithPageSize(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.pageSize = n
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New creates a Verifier for p.
func New(c probe.Selecter, p *plan.Plan, opts ...Option) *Verifier {
	v := &Verifier{
		client:   c,
		plan:     p,
		http:     http.DefaultClient,
		pageSize: normalize.DefaultPageSize,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run performs every check. Individual failures are recorded in the
// report; the error is non-nil only when ctx is done.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	r := &Report{}
	for _, table := range v.plan.Tables() {
		v.columns(ctx, r, table)
	}
	v.leaderboardQuery(ctx, r)
	v.bannedKeys(ctx, r)
	v.publicFlag(ctx, r)
	v.ownership(ctx, r)
	v.backend(ctx, r)
	return r, ctx.Err()
}

// columns checks that every planned column of table is selectable.
func (v *Verifier) columns(ctx context.Context, r *Report, table string) {
	name := "columns " + table
	var missing, unknown []string
	for _, col := range v.plan.Columns()[table] {
		res := probe.Column(ctx, v.client, table, col)
		switch res.Outcome {
		case probe.Present:
		case probe.MissingTable:
			r.add(name, Fail, "table %s is missing", table)
			return
		case probe.MissingColumn:
			missing = append(missing, col)
		default:
			unknown = append(unknown, fmt.Sprintf("%s (%s)", col, res.Kind))
		}
	}
	switch {
	case len(missing) > 0:
		r.add(name, Fail, "missing: %s", strings.Join(missing, ", "))
	case len(unknown) > 0:
		r.add(name, Fail, "undetermined: %s", strings.Join(unknown, ", "))
	default:
		r.add(name, Pass, "%d columns selectable", len(v.plan.Columns()[table]))
	}
}

// leaderboardSelect embeds personal fields from user_profiles next to
// performance fields from athlete_profiles.
var leaderboardSelect = []string{
	"id", "user_id", "hybrid_score",
	"profile:" + models.TableUserProfiles + "!user_profile_id(display_name,gender,country)",
}

func (v *Verifier) leaderboardQuery(ctx context.Context, r *Report) {
	const name = "leaderboard query"
	rows, err := v.client.Select(ctx, models.TableAthleteProfiles, rest.Query{
		Select:  leaderboardSelect,
		Filters: []rest.Filter{rest.Eq("is_public", "true"), rest.NotNull("hybrid_score")},
		Order:   "hybrid_score.desc",
		Limit:   10,
	})
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}
	if len(rows) == 0 {
		r.add(name, Pass, "no public scored rows")
		return
	}

	var unlinked []string
	prev, ordered := 0.0, true
	for i, row := range rows {
		score, ok := models.ToFloat(row["hybrid_score"])
		if !ok {
			r.add(name, Fail, "row %s has non-numeric hybrid_score", row.String("id"))
			return
		}
		if i > 0 && score > prev {
			ordered = false
		}
		prev = score
		if _, ok := row["profile"].(map[string]any); !ok {
			unlinked = append(unlinked, row.String("id"))
		}
	}
	switch {
	case !ordered:
		r.add(name, Fail, "rows not in descending hybrid_score order")
	case len(unlinked) > 0:
		r.add(name, Fail, "%d of %d rows have no linked user_profiles row, e.g. id %s", len(unlinked), len(rows), unlinked[0])
	default:
		r.add(name, Pass, "%d rows with personal fields from %s", len(rows), models.TableUserProfiles)
	}
}

// scan pages through athlete_profiles by id, calling fn for every row.
func (v *Verifier) scan(ctx context.Context, cols []string, filters []rest.Filter, fn func(rest.Record)) error {
	last := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := rest.Query{Select: cols, Filters: filters, Order: "id.asc", Limit: v.pageSize}
		if last != "" {
			q.Filters = append(append([]rest.Filter{}, filters...), rest.Gt("id", last))
		}
		rows, err := v.client.Select(ctx, models.TableAthleteProfiles, q)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fn(row)
		}
		if len(rows) < v.pageSize {
			return nil
		}
		last = rows[len(rows)-1].String("id")
	}
}

func (v *Verifier) bannedKeys(ctx context.Context, r *Report) {
	const name = "no personal keys in profile_json"
	var offenders []string
	found := map[string]bool{}
	err := v.scan(ctx, []string{"id", "profile_json"}, nil, func(row rest.Record) {
		doc, err := normalize.Document(row["profile_json"])
		if err != nil {
			return
		}
		hit := false
		for key := range doc {
			if models.IsPersonalKey(key) {
				found[key], hit = true, true
			}
		}
		if hit {
			offenders = append(offenders, row.String("id"))
		}
	})
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}
	if len(offenders) == 0 {
		r.add(name, Pass, "clean")
		return
	}
	r.add(name, Fail, "%d rows carry %s, e.g. id %s; run normalize", len(offenders), strings.Join(sortedKeys(found), ", "), offenders[0])
}

func (v *Verifier) publicFlag(ctx context.Context, r *Report) {
	const name = "is_public set"
	rows, err := v.client.Select(ctx, models.TableAthleteProfiles, rest.Query{
		Select:  []string{"id"},
		Filters: []rest.Filter{rest.IsNull("is_public")},
		Limit:   1,
	})
	switch {
	case err != nil:
		r.add(name, Fail, "%v", err)
	case len(rows) > 0:
		r.add(name, Fail, "null is_public, e.g. id %s; run migrate", rows[0].String("id"))
	default:
		r.add(name, Pass, "no null values")
	}
}

// ownership checks that every owned athlete row has exactly one user_profiles row.
func (v *Verifier) ownership(ctx context.Context, r *Report) {
	const name = "one user_profiles row per owner"
	seen := map[string]bool{}
	var owners []string
	err := v.scan(ctx, []string{"id", "user_id"}, []rest.Filter{rest.NotNull("user_id")}, func(row rest.Record) {
		if uid := row.String("user_id"); uid != "" && !seen[uid] {
			seen[uid] = true
			owners = append(owners, uid)
		}
	})
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}

	counts := map[string]int{}
	for start := 0; start < len(owners); start += v.pageSize {
		batch := owners[start:min(start+v.pageSize, len(owners))]
		rows, err := v.client.Select(ctx, models.TableUserProfiles, rest.Query{
			Select:  []string{"user_id"},
			Filters: []rest.Filter{rest.In("user_id", batch...)},
		})
		if err != nil {
			r.add(name, Fail, "%v", err)
			return
		}
		for _, row := range rows {
			counts[row.String("user_id")]++
		}
	}

	var missing, dup []string
	for _, uid := range owners {
		switch n := counts[uid]; {
		case n == 0:
			missing = append(missing, uid)
		case n > 1:
			dup = append(dup, uid)
		}
	}
	switch {
	case len(missing) > 0:
		r.add(name, Fail, "%d owners have no profile, e.g. user_id %s; run normalize", len(missing), missing[0])
	case len(dup) > 0:
		r.add(name, Fail, "%d owners have several profiles, e.g. user_id %s", len(dup), dup[0])
	default:
		r.add(name, Pass, "%d owners", len(owners))
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
