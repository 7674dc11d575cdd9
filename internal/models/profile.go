// ABOUTME: Row shapes for user_profiles and athlete_profiles.
// ABOUTME: Table names, banned personal keys, and the seedable insert payloads.
package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Table names on the data surface.
const (
	TableUserProfiles    = "user_profiles"
	TableAthleteProfiles = "athlete_profiles"
)

// PersonalKeys are the profile_json keys whose authoritative home is user_profiles.
var PersonalKeys = []string{"first_name", "last_name", "email", "sex", "age"}

// IsPersonalKey reports whether key must not appear in athlete_profiles.profile_json.
func IsPersonalKey(key string) bool {
	for _, k := range PersonalKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Units and privacy values accepted by user_profiles.
const (
	UnitsImperial  = "imperial"
	UnitsMetric    = "metric"
	PrivacyPrivate = "private"
	PrivacyPublic  = "public"
)

// UserProfile is one row of user_profiles. Pointer fields are nullable.
type UserProfile struct {
	ID              string     `json:"id,omitempty"`
	UserID          string     `json:"user_id"`
	Email           string     `json:"email,omitempty"`
	Name            *string    `json:"name,omitempty"`
	DisplayName     *string    `json:"display_name,omitempty"`
	FirstName       *string    `json:"first_name,omitempty"`
	LastName        *string    `json:"last_name,omitempty"`
	Location        *string    `json:"location,omitempty"`
	Website         *string    `json:"website,omitempty"`
	Country         *string    `json:"country,omitempty"`
	Timezone        *string    `json:"timezone,omitempty"`
	DateOfBirth     *string    `json:"date_of_birth,omitempty"`
	Gender          *string    `json:"gender,omitempty"`
	UnitsPreference *string    `json:"units_preference,omitempty"`
	PrivacyLevel    *string    `json:"privacy_level,omitempty"`
	HeightIn        *float64   `json:"height_in,omitempty"`
	WeightLb        *float64   `json:"weight_lb,omitempty"`
	Wearables       []string   `json:"wearables,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// NewUserProfile creates a profile for a freshly minted auth principal.
func NewUserProfile(email string) *UserProfile {
	return &UserProfile{
		UserID: uuid.NewString(),
		Email:  email,
	}
}

// WithName sets first, last and display names.
func (p *UserProfile) WithName(first, last string) *UserProfile {
	display := first + " " + last
	p.FirstName = &first
	p.LastName = &last
	p.DisplayName = &display
	return p
}

// WithGender sets gender.
func (p *UserProfile) WithGender(g string) *UserProfile {
	p.Gender = &g
	return p
}

// WithCountry sets country.
func (p *UserProfile) WithCountry(c string) *UserProfile {
	p.Country = &c
	return p
}

// WithPrivacy sets privacy_level.
func (p *UserProfile) WithPrivacy(level string) *UserProfile {
	p.PrivacyLevel = &level
	return p
}

// ScoreData is the athlete_profiles.score_data document.
type ScoreData struct {
	HybridScore    float64 `json:"hybridScore"`
	StrengthScore  float64 `json:"strengthScore,omitempty"`
	SpeedScore     float64 `json:"speedScore,omitempty"`
	VO2Score       float64 `json:"vo2Score,omitempty"`
	DistanceScore  float64 `json:"distanceScore,omitempty"`
	VolumeScore    float64 `json:"volumeScore,omitempty"`
	EnduranceScore float64 `json:"enduranceScore,omitempty"`
	RecoveryScore  float64 `json:"recoveryScore,omitempty"`
}

// AthleteProfile is one scored assessment row of athlete_profiles.
type AthleteProfile struct {
	ID            string         `json:"id,omitempty"`
	UserID        string         `json:"user_id"`
	UserProfileID *string        `json:"user_profile_id,omitempty"`
	ProfileJSON   map[string]any `json:"profile_json"`
	ScoreData     ScoreData      `json:"score_data"`

	WeightLb        *float64 `json:"weight_lb,omitempty"`
	VO2Max          *float64 `json:"vo2_max,omitempty"`
	RestingHRBpm    *float64 `json:"resting_hr_bpm,omitempty"`
	HRVMs           *float64 `json:"hrv_ms,omitempty"`
	PBMileSeconds   *float64 `json:"pb_mile_seconds,omitempty"`
	WeeklyMiles     *float64 `json:"weekly_miles,omitempty"`
	LongRunMiles    *float64 `json:"long_run_miles,omitempty"`
	PBBench1RMLb    *float64 `json:"pb_bench_1rm_lb,omitempty"`
	PBSquat1RMLb    *float64 `json:"pb_squat_1rm_lb,omitempty"`
	PBDeadlift1RMLb *float64 `json:"pb_deadlift_1rm_lb,omitempty"`

	HybridScore    *float64 `json:"hybrid_score,omitempty"`
	StrengthScore  *float64 `json:"strength_score,omitempty"`
	SpeedScore     *float64 `json:"speed_score,omitempty"`
	VO2Score       *float64 `json:"vo2_score,omitempty"`
	DistanceScore  *float64 `json:"distance_score,omitempty"`
	VolumeScore    *float64 `json:"volume_score,omitempty"`
	EnduranceScore *float64 `json:"endurance_score,omitempty"`
	RecoveryScore  *float64 `json:"recovery_score,omitempty"`

	IsPublic    bool       `json:"is_public"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// metricColumns maps profile_json keys to their flattened column pointers.
func (a *AthleteProfile) metricColumns() map[string]**float64 {
	return map[string]**float64{
		"weight_lb":          &a.WeightLb,
		"vo2_max":            &a.VO2Max,
		"resting_hr_bpm":     &a.RestingHRBpm,
		"hrv_ms":             &a.HRVMs,
		"pb_mile_seconds":    &a.PBMileSeconds,
		"weekly_miles":       &a.WeeklyMiles,
		"long_run_miles":     &a.LongRunMiles,
		"pb_bench_1rm_lb":    &a.PBBench1RMLb,
		"pb_squat_1rm_lb":    &a.PBSquat1RMLb,
		"pb_deadlift_1rm_lb": &a.PBDeadlift1RMLb,
	}
}

// NewAthleteProfile builds an assessment for userID, mirroring numeric
// inputs from profileJSON into their flattened columns and score
// components from scores.
func NewAthleteProfile(userID string, profileJSON map[string]any, scores ScoreData) *AthleteProfile {
	now := time.Now().UTC()
	a := &AthleteProfile{
		UserID:      userID,
		ProfileJSON: profileJSON,
		ScoreData:   scores,
		CompletedAt: &now,
	}
	for key, dst := range a.metricColumns() {
		if v, ok := profileJSON[key]; ok {
			if f, ok := ToFloat(v); ok {
				*dst = &f
			}
		}
	}
	a.HybridScore = floatPtr(scores.HybridScore)
	a.StrengthScore = nonZero(scores.StrengthScore)
	a.SpeedScore = nonZero(scores.SpeedScore)
	a.VO2Score = nonZero(scores.VO2Score)
	a.DistanceScore = nonZero(scores.DistanceScore)
	a.VolumeScore = nonZero(scores.VolumeScore)
	a.EnduranceScore = nonZero(scores.EnduranceScore)
	a.RecoveryScore = nonZero(scores.RecoveryScore)
	return a
}

// LinkProfile sets user_profile_id.
func (a *AthleteProfile) LinkProfile(userProfileID string) *AthleteProfile {
	a.UserProfileID = &userProfileID
	return a
}

// Public marks the row as eligible for rankings.
func (a *AthleteProfile) Public() *AthleteProfile {
	a.IsPublic = true
	return a
}

// ToFloat converts a decoded JSON number (or numeric string) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func floatPtr(f float64) *float64 { return &f }

func nonZero(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
