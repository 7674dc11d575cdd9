// ABOUTME: Moves personal keys out of athlete_profiles.profile_json into user_profiles.
// ABOUTME: Pages serially by id; fills only empty target fields and never overwrites.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/harperreed/profilectl/internal/plan"
	"github.com/harperreed/profilectl/internal/rest"
)

// DefaultPageSize bounds rows fetched per page.
const DefaultPageSize = 100

// Client is the slice of the REST client the normalizer needs.
type Client interface {
	Select(ctx context.Context, table string, q rest.Query) ([]rest.Record, error)
	Insert(ctx context.Context, table string, row any) (rest.Record, error)
	Update(ctx context.Context, table string, patch any, filters ...rest.Filter) ([]rest.Record, error)
	AuthUserEmail(ctx context.Context, userID string) (string, error)
}

// Stats counts what a run did (or, in a dry run, would do).
type Stats struct {
	Scanned         int
	Rewritten       int
	KeysRemoved     int
	ProfilesCreated int
	FieldsFilled    int
	FieldsKept      int // personal values dropped because the profile already had one
	Linked          int
	Skipped         int
}

func (s Stats) String() string {
	return fmt.Sprintf("scanned %d, rewrote %d (%d keys removed), created %d profiles, filled %d fields, kept %d, linked %d, skipped %d",
		s.Scanned, s.Rewritten, s.KeysRemoved, s.ProfilesCreated, s.FieldsFilled, s.FieldsKept, s.Linked, s.Skipped)
}

// Normalizer rewrites source rows according to a plan's normalize section.
type Normalizer struct {
	client   Client
	cfg      plan.Normalize
	pageSize int
	backfill bool
	dryRun   bool
	logger   *log.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithPageSize sets rows per page.
func WithPageSize(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.pageSize = n
		}
	}
}

// WithBackfill overrides the plan's backfill_profile_id setting.
func WithBackfill(on bool) Option {
	return func(nz *Normalizer) { nz.backfill = on }
}

// WithDryRun counts changes without writing.
func WithDryRun(dry bool) Option {
	return func(nz *Normalizer) { nz.dryRun = dry }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(nz *Normalizer) { nz.logger = l }
}

// New creates a Normalizer.
func New(c Client, cfg plan.Normalize, opts ...Option) *Normalizer {
	nz := &Normalizer{
		client:   c,
		cfg:      cfg,
		pageSize: DefaultPageSize,
		backfill: cfg.BackfillProfileID,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// Run normalizes every source row. Page N+1 is read only after page N is
// fully rewritten. It stops at the first write failure; rerunning resumes.
func (nz *Normalizer) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	cols := []string{"id", "user_id", "profile_json"}
	if nz.backfill {
		cols = append(cols, "user_profile_id")
	}

	last := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		q := rest.Query{Select: cols, Order: "id.asc", Limit: nz.pageSize}
		if last != "" {
			q.Filters = []rest.Filter{rest.Gt("id", last)}
		}
		rows, err := nz.client.Select(ctx, nz.cfg.SourceTable, q)
		if err != nil {
			if rest.IsKind(err, rest.KindMissingColumn) {
				return stats, fmt.Errorf("read %s: %w (run migrate first, or disable profile backfill)", nz.cfg.SourceTable, err)
			}
			return stats, fmt.Errorf("read %s: %w", nz.cfg.SourceTable, err)
		}

		for _, row := range rows {
			stats.Scanned++
			if err := nz.row(ctx, row, stats); err != nil {
				return stats, fmt.Errorf("%s %s: %w", nz.cfg.SourceTable, row.String("id"), err)
			}
		}
		nz.logger.Debug("page done", "rows", len(rows), "after", last)

		if len(rows) < nz.pageSize {
			break
		}
		last = rows[len(rows)-1].String("id")
	}

	nz.logger.Info("normalize complete", "rewritten", stats.Rewritten, "keys_removed", stats.KeysRemoved)
	return stats, nil
}

func (nz *Normalizer) row(ctx context.Context, row rest.Record, stats *Stats) error {
	id, userID := row.String("id"), row.String("user_id")

	doc, err := Document(row["profile_json"])
	if err != nil {
		nz.logger.Warn("skipping row", "id", id, "err", err)
		stats.Skipped++
		return nil
	}
	personal, remaining := Partition(doc, nz.cfg.Keys())
	needLink := nz.backfill && row["user_profile_id"] == nil

	if len(personal) == 0 && !needLink {
		return nil
	}
	if userID == "" {
		if len(personal) > 0 {
			nz.logger.Warn("row has personal keys but no user_id", "id", id)
			stats.Skipped++
		}
		return nil
	}

	profile, err := nz.profile(ctx, userID, personal, stats)
	if err != nil {
		return err
	}

	if len(personal) > 0 {
		patch, kept := Fill(profile, personal, nz.cfg.PersonalKeys)
		stats.FieldsKept += kept
		if len(patch) > 0 {
			stats.FieldsFilled += len(patch)
			if !nz.dryRun {
				if _, err := nz.client.Update(ctx, nz.cfg.TargetTable, patch, rest.Eq("id", profile.String("id"))); err != nil {
					return fmt.Errorf("fill %s: %w", nz.cfg.TargetTable, err)
				}
			}
		}
	}

	athlete := map[string]any{}
	if len(personal) > 0 {
		athlete["profile_json"] = remaining
		stats.Rewritten++
		stats.KeysRemoved += len(personal)
	}
	if needLink && (profile["id"] != nil || nz.dryRun) {
		athlete["user_profile_id"] = profile["id"]
		stats.Linked++
	}
	if len(athlete) == 0 || nz.dryRun {
		return nil
	}
	if _, err := nz.client.Update(ctx, nz.cfg.SourceTable, athlete, rest.Eq("id", id)); err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}
	return nil
}

// profile locates the user's target row, creating a minimal one when the
// user has none.
func (nz *Normalizer) profile(ctx context.Context, userID string, personal map[string]any, stats *Stats) (rest.Record, error) {
	rows, err := nz.client.Select(ctx, nz.cfg.TargetTable, rest.Query{
		Select:  nz.profileColumns(),
		Filters: []rest.Filter{rest.Eq("user_id", userID)},
		Limit:   2,
	})
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", nz.cfg.TargetTable, err)
	}
	if len(rows) > 1 {
		nz.logger.Warn("multiple profiles for user", "user_id", userID)
	}
	if len(rows) > 0 {
		return rows[0], nil
	}

	email, _ := personal["email"].(string)
	if email == "" {
		email, err = nz.client.AuthUserEmail(ctx, userID)
		if err != nil {
			nz.logger.Debug("auth email unavailable", "user_id", userID, "err", err)
			email = ""
		}
	}
	minimal := map[string]any{"user_id": userID}
	if email != "" {
		minimal["email"] = email
	}

	stats.ProfilesCreated++
	if nz.dryRun {
		return rest.Record(minimal), nil
	}
	created, err := nz.client.Insert(ctx, nz.cfg.TargetTable, minimal)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", nz.cfg.TargetTable, err)
	}
	return created, nil
}

func (nz *Normalizer) profileColumns() []string {
	cols := []string{"id", "user_id"}
	seen := map[string]bool{"id": true, "user_id": true}
	for _, key := range nz.cfg.Keys() {
		col := nz.cfg.PersonalKeys[key]
		if col != "" && !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}
	return cols
}

// Document decodes a profile_json value. Documents stored as a JSON string
// holding an object are unwrapped. A null document is empty.
func Document(v any) (map[string]any, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return d, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(d), &m); err != nil {
			return nil, fmt.Errorf("profile_json string is not a JSON object: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("profile_json has unexpected type %T", v)
}

// Partition splits doc into the values under keys and everything else.
func Partition(doc map[string]any, keys []string) (personal, remaining map[string]any) {
	personal = map[string]any{}
	remaining = make(map[string]any, len(doc))
	for k, v := range doc {
		remaining[k] = v
	}
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			personal[k] = v
			delete(remaining, k)
		}
	}
	return personal, remaining
}

// Fill returns the profile columns to set from personal values: only those
// whose mapped column is null or absent on profile. kept counts values
// dropped because the profile already holds a different non-null value.
// Keys are visited in sorted order, so a column shared by two keys takes
// the first key's value.
func Fill(profile rest.Record, personal map[string]any, mapping map[string]string) (patch map[string]any, kept int) {
	patch = map[string]any{}
	for _, key := range slices.Sorted(maps.Keys(personal)) {
		val := personal[key]
		col := mapping[key]
		if col == "" || val == nil {
			continue
		}
		if existing := profile[col]; existing != nil {
			if fmt.Sprint(existing) != fmt.Sprint(val) {
				kept++
			}
			continue
		}
		if _, dup := patch[col]; dup {
			continue
		}
		patch[col] = val
	}
	return patch, kept
}
