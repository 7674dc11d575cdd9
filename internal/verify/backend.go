// ABOUTME: Checks against the sibling application backend's read endpoints.
// ABOUTME: Response shapes are inspected with gjson rather than fixed structs.
package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// get fetches path from the backend. A transport failure returns err; any
// HTTP response returns its status and body.
func (v *Verifier) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.backendURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := v.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (v *Verifier) backend(ctx context.Context, r *Report) {
	if v.backendURL == "" {
		r.add("backend", Skip, "REACT_APP_BACKEND_URL not set")
		return
	}

	status, _, err := v.get(ctx, "/api/health")
	if err != nil {
		v.logger.Debug("backend unreachable", "url", v.backendURL, "err", err)
		r.add("backend", Skip, "unreachable: %v", err)
		return
	}
	if status != http.StatusOK {
		r.add("backend health", Fail, "HTTP %d", status)
		return
	}
	r.add("backend health", Pass, "HTTP 200")

	topUser := v.backendLeaderboard(ctx, r)
	v.backendAthletes(ctx, r)
	v.backendPublicProfile(ctx, r, topUser)
}

// fetchJSON gets path and requires a 200 with a valid JSON body.
func (v *Verifier) fetchJSON(ctx context.Context, path string) (gjson.Result, error) {
	status, body, err := v.get(ctx, path)
	if err != nil {
		return gjson.Result{}, err
	}
	if status != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("HTTP %d", status)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("response is not JSON")
	}
	return gjson.ParseBytes(body), nil
}

// backendLeaderboard checks ranks run 1..n with non-increasing scores and
// returns the top entry's user_id.
func (v *Verifier) backendLeaderboard(ctx context.Context, r *Report) string {
	const name = "backend leaderboard"
	doc, err := v.fetchJSON(ctx, "/api/leaderboard")
	if err != nil {
		r.add(name, Fail, "%v", err)
		return ""
	}
	board := doc.Get("leaderboard")
	if !board.IsArray() {
		r.add(name, Fail, "missing leaderboard array")
		return ""
	}

	entries := board.Array()
	prev := 0.0
	for i, e := range entries {
		for _, field := range []string{"rank", "user_id", "hybrid_score"} {
			if !e.Get(field).Exists() {
				r.add(name, Fail, "entry %d lacks %s", i, field)
				return ""
			}
		}
		if got := e.Get("rank").Int(); got != int64(i+1) {
			r.add(name, Fail, "entry %d has rank %d", i, got)
			return ""
		}
		score := e.Get("hybrid_score").Float()
		if i > 0 && score > prev {
			r.add(name, Fail, "rank %d scores %.1f above rank %d", i+1, score, i)
			return ""
		}
		prev = score
	}
	r.add(name, Pass, "%d entries ranked", len(entries))
	if len(entries) == 0 {
		return ""
	}
	return entries[0].Get("user_id").String()
}

func (v *Verifier) backendAthletes(ctx context.Context, r *Report) {
	const name = "backend athlete-profiles"
	doc, err := v.fetchJSON(ctx, "/api/athlete-profiles")
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}
	if !doc.IsArray() {
		r.add(name, Fail, "expected an array")
		return
	}
	rows := doc.Array()
	for i, row := range rows {
		if !row.Get("user_id").Exists() {
			r.add(name, Fail, "row %d lacks user_id", i)
			return
		}
	}
	r.add(name, Pass, "%d rows", len(rows))
}

func (v *Verifier) backendPublicProfile(ctx context.Context, r *Report, userID string) {
	const name = "backend public-profile"
	if userID == "" {
		r.add(name, Skip, "no ranked athlete to look up")
		return
	}
	doc, err := v.fetchJSON(ctx, "/api/public-profile/"+url.PathEscape(userID))
	if err != nil {
		r.add(name, Fail, "%v", err)
		return
	}
	if got := doc.Get("user_id").String(); got != userID {
		r.add(name, Fail, "user_id %q, want %q", got, userID)
		return
	}
	r.add(name, Pass, "user %s", userID)
}
