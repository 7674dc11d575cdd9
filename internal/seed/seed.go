// ABOUTME: Inserts a fixed catalog of public demonstration athletes with deterministic scores.
// ABOUTME: Personal fields go to user_profiles; profile_json carries only performance inputs.
package seed

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/harperreed/profilectl/internal/models"
	"github.com/harperreed/profilectl/internal/rest"
)

// Inserter is the slice of the REST client the seeder needs.
type Inserter interface {
	Insert(ctx context.Context, table string, row any) (rest.Record, error)
}

// Athlete is one catalog entry. Slug only shapes the seeded email.
type Athlete struct {
	Slug      string
	FirstName string
	LastName  string
	Gender    string
	Country   string
	Inputs    map[string]any
	Scores    models.ScoreData
}

// Catalog is the demonstration set, highest score first.
var Catalog = []Athlete{
	{
		Slug: "maya", FirstName: "Maya", LastName: "Okafor", Gender: "Female", Country: "US",
		Inputs: map[string]any{
			"weight_lb": 138.0, "vo2_max": 58.0, "resting_hr_bpm": 46.0, "hrv_ms": 92.0,
			"pb_mile_seconds": 318.0, "weekly_miles": 42.0, "long_run_miles": 16.0,
			"pb_bench_1rm_lb": 135.0, "pb_squat_1rm_lb": 225.0, "pb_deadlift_1rm_lb": 275.0,
		},
		Scores: models.ScoreData{
			HybridScore: 91.2, StrengthScore: 84.0, SpeedScore: 93.5, VO2Score: 95.1,
			DistanceScore: 90.4, VolumeScore: 88.7, EnduranceScore: 92.6, RecoveryScore: 94.0,
		},
	},
	{
		Slug: "diego", FirstName: "Diego", LastName: "Ramos", Gender: "Male", Country: "MX",
		Inputs: map[string]any{
			"weight_lb": 181.0, "vo2_max": 54.0, "resting_hr_bpm": 50.0, "hrv_ms": 78.0,
			"pb_mile_seconds": 335.0, "weekly_miles": 30.0, "long_run_miles": 12.0,
			"pb_bench_1rm_lb": 245.0, "pb_squat_1rm_lb": 335.0, "pb_deadlift_1rm_lb": 405.0,
		},
		Scores: models.ScoreData{
			HybridScore: 87.5, StrengthScore: 92.3, SpeedScore: 86.0, VO2Score: 88.2,
			DistanceScore: 82.9, VolumeScore: 84.1, EnduranceScore: 85.5, RecoveryScore: 89.0,
		},
	},
	{
		Slug: "ingrid", FirstName: "Ingrid", LastName: "Solberg", Gender: "Female", Country: "NO",
		Inputs: map[string]any{
			"weight_lb": 150.0, "vo2_max": 55.0, "resting_hr_bpm": 48.0, "hrv_ms": 85.0,
			"pb_mile_seconds": 341.0, "weekly_miles": 48.0, "long_run_miles": 20.0,
			"pb_bench_1rm_lb": 115.0, "pb_squat_1rm_lb": 185.0, "pb_deadlift_1rm_lb": 225.0,
		},
		Scores: models.ScoreData{
			HybridScore: 85.8, StrengthScore: 74.6, SpeedScore: 84.9, VO2Score: 89.3,
			DistanceScore: 94.0, VolumeScore: 91.2, EnduranceScore: 93.1, RecoveryScore: 86.4,
		},
	},
}

// Seeded identifies the rows written for one athlete.
type Seeded struct {
	Slug          string
	UserID        string
	UserProfileID string
	AthleteID     string
	HybridScore   float64
}

// Seeder writes catalog entries.
type Seeder struct {
	client Inserter
	logger *log.Logger
}

// New creates a Seeder. A nil logger discards output.
func New(c Inserter, logger *log.Logger) *Seeder {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Seeder{client: c, logger: logger}
}

// Run inserts every athlete with freshly minted identifiers. It never
// updates existing rows, so each run adds another copy of the catalog.
// It stops at the first failure and returns what was written so far.
func (s *Seeder) Run(ctx context.Context, catalog []Athlete) ([]Seeded, error) {
	var out []Seeded
	for _, a := range catalog {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		seeded, err := s.one(ctx, a)
		if err != nil {
			return out, fmt.Errorf("seed %s: %w", a.Slug, err)
		}
		s.logger.Debug("seeded athlete", "slug", a.Slug, "user_id", seeded.UserID, "score", seeded.HybridScore)
		out = append(out, seeded)
	}
	s.logger.Info("seed complete", "athletes", len(out))
	return out, nil
}

func (s *Seeder) one(ctx context.Context, a Athlete) (Seeded, error) {
	for key := range a.Inputs {
		if models.IsPersonalKey(key) {
			return Seeded{}, fmt.Errorf("input %q belongs in user_profiles", key)
		}
	}

	user := models.NewUserProfile(Email(a.Slug)).
		WithName(a.FirstName, a.LastName).
		WithGender(a.Gender).
		WithCountry(a.Country).
		WithPrivacy(models.PrivacyPublic)
	profile, err := s.client.Insert(ctx, models.TableUserProfiles, user)
	if err != nil {
		return Seeded{}, fmt.Errorf("insert %s: %w", models.TableUserProfiles, err)
	}

	inputs := make(map[string]any, len(a.Inputs))
	for k, v := range a.Inputs {
		inputs[k] = v
	}
	athlete := models.NewAthleteProfile(user.UserID, inputs, a.Scores).
		LinkProfile(profile.String("id")).
		Public()
	row, err := s.client.Insert(ctx, models.TableAthleteProfiles, athlete)
	if err != nil {
		return Seeded{}, fmt.Errorf("insert %s: %w", models.TableAthleteProfiles, err)
	}

	return Seeded{
		Slug:          a.Slug,
		UserID:        user.UserID,
		UserProfileID: profile.String("id"),
		AthleteID:     row.String("id"),
		HybridScore:   a.Scores.HybridScore,
	}, nil
}

// Email is the address seeded for slug.
func Email(slug string) string {
	return "seed+" + slug + "@example.com"
}
