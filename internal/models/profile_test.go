// ABOUTME: Tests for profile row builders and personal-key helpers.
// ABOUTME: Verifies metric flattening, score columns and JSON payload shape.
package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPersonalKey(t *testing.T) {
	for _, key := range []string{"first_name", "last_name", "email", "sex", "age"} {
		assert.True(t, IsPersonalKey(key), key)
	}
	for _, key := range []string{"gender", "weekly_miles", "display_name", ""} {
		assert.False(t, IsPersonalKey(key), key)
	}
}

func TestNewUserProfile(t *testing.T) {
	p := NewUserProfile("a@example.com").
		WithName("Maya", "Okafor").
		WithGender("Female").
		WithCountry("US").
		WithPrivacy(PrivacyPublic)

	_, err := uuid.Parse(p.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Maya Okafor", *p.DisplayName)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "public", got["privacy_level"])
	assert.NotContains(t, got, "id")
	assert.NotContains(t, got, "units_preference")
	assert.NotContains(t, got, "created_at")
}

func TestNewAthleteProfile(t *testing.T) {
	inputs := map[string]any{"weekly_miles": 42.0, "vo2_max": "55", "shoe": "trail"}
	a := NewAthleteProfile("u1", inputs, ScoreData{HybridScore: 91.2, SpeedScore: 90}).
		LinkProfile("p1").
		Public()

	require.NotNil(t, a.WeeklyMiles)
	assert.Equal(t, 42.0, *a.WeeklyMiles)
	require.NotNil(t, a.VO2Max)
	assert.Equal(t, 55.0, *a.VO2Max)
	assert.Nil(t, a.HRVMs)
	assert.Equal(t, 91.2, *a.HybridScore)
	assert.Equal(t, 90.0, *a.SpeedScore)
	assert.Nil(t, a.StrengthScore)
	assert.True(t, a.IsPublic)
	assert.Equal(t, "p1", *a.UserProfileID)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 91.2, got["score_data"].(map[string]any)["hybridScore"])
	assert.Equal(t, true, got["is_public"])
	assert.NotContains(t, got, "strength_score")
	assert.Contains(t, got, "completed_at")
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{3, 3, true},
		{int64(4), 4, true},
		{"5.5", 5.5, true},
		{"x", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
