// ABOUTME: Fake sibling application backend serving health, leaderboard and profile reads.
// ABOUTME: Reads straight from the fake project's tables, joining athletes to user profiles.
package fakerest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// NewBackend starts a fake application backend over s. It is closed when
// the test ends.
func NewBackend(t testing.TB, s *Server) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/athlete-profiles", s.handleAthleteProfiles)
	mux.HandleFunc("GET /api/public-profile/{user_id}", s.handlePublicProfile)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (s *Server) publicAthletes(extra url.Values) ([]map[string]any, error) {
	q := url.Values{
		"select":       {"id,user_id,hybrid_score,profile_json,score_data,profile:user_profiles!user_profile_id(display_name,gender,country)"},
		"is_public":    {"eq.true"},
		"hybrid_score": {"not.is.null"},
		"order":        {"hybrid_score.desc"},
	}
	for k, v := range extra {
		q[k] = v
	}
	return s.selectRows("athlete_profiles", q)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.publicAthletes(nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	entries := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		entry := map[string]any{
			"rank":         i + 1,
			"user_id":      row["user_id"],
			"hybrid_score": row["hybrid_score"],
		}
		if p, ok := row["profile"].(map[string]any); ok {
			entry["display_name"] = p["display_name"]
			entry["gender"] = p["gender"]
			entry["country"] = p["country"]
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (s *Server) handleAthleteProfiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.publicAthletes(nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePublicProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := r.PathValue("user_id")
	rows, err := s.publicAthletes(url.Values{"user_id": {"eq." + userID}})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"profile":  rows[0]["profile"],
		"profiles": rows,
	})
}
