// ABOUTME: In-process fake of the PostgREST data surface, management query endpoint and auth admin API.
// ABOUTME: Tables live in an in-memory SQLite database; DDL is interpreted through the Postgres parser.
package fakerest

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harperreed/profilectl/internal/config"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// Default credentials accepted by the fake.
const (
	DefaultServiceKey  = "service-key"
	DefaultAccessToken = "management-token"
	DefaultProjectRef  = "fakeproject"
)

// Server is a fake Supabase project for tests.
type Server struct {
	URL         string
	ServiceKey  string
	AccessToken string // empty disables the management endpoint
	ProjectRef  string

	t   testing.TB
	srv *httptest.Server
	db  *sql.DB

	mu          sync.Mutex
	tables      map[string]*table
	indexes     map[string]string // index name -> table
	constraints map[string]string // constraint name -> table
	helpers     map[string]bool
	users       map[string]string // auth user id -> email
	faults      map[string]int    // method -> remaining dropped requests
	counts      map[string]int    // "METHOD /path" -> requests seen
	executed    []string
	reloads     int
}

// Option configures a Server.
type Option func(*Server)

// WithManagement enables the management query endpoint.
func WithManagement() Option {
	return func(s *Server) { s.AccessToken = DefaultAccessToken }
}

// WithHelper installs a SQL helper RPC such as exec_sql.
func WithHelper(name string) Option {
	return func(s *Server) { s.helpers[name] = true }
}

// New starts a fake project. It is closed when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// One connection keeps a single in-memory database.
	db.SetMaxOpenConns(1)

	s := &Server{
		ServiceKey:  DefaultServiceKey,
		ProjectRef:  DefaultProjectRef,
		t:           t,
		db:          db,
		tables:      map[string]*table{},
		indexes:     map[string]string{},
		constraints: map[string]string{},
		helpers:     map[string]bool{},
		users:       map[string]string{},
		faults:      map[string]int{},
		counts:      map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// Close stops the server and drops the database.
func (s *Server) Close() {
	s.srv.Close()
	_ = s.db.Close()
}

// Config returns a profilectl config pointing at the fake.
func (s *Server) Config() *config.Config {
	return &config.Config{
		SupabaseURL:   s.URL,
		ServiceKey:    s.ServiceKey,
		AccessToken:   s.AccessToken,
		ProjectRef:    s.ProjectRef,
		ManagementURL: s.URL,
		Timeout:       5 * time.Second,
		PageSize:      100,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /rest/v1/{table}", s.dataAuth(s.handleSelect))
	mux.Handle("POST /rest/v1/{table}", s.dataAuth(s.handleInsert))
	mux.Handle("PATCH /rest/v1/{table}", s.dataAuth(s.handleUpdate))
	mux.Handle("POST /rest/v1/rpc/{fn}", s.dataAuth(s.handleRPC))
	mux.Handle("GET /auth/v1/admin/users/{id}", s.dataAuth(s.handleAuthUser))
	mux.HandleFunc("POST /v1/projects/{ref}/database/query", s.handleManagementQuery)
	return s.instrument(mux)
}

// instrument counts requests and drops connections for injected faults.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.Method+" "+r.URL.Path]++
		drop := s.faults[r.Method] > 0
		if drop {
			s.faults[r.Method]--
		}
		s.mu.Unlock()

		if drop {
			hj, ok := w.(http.Hijacker)
			if !ok {
				http.Error(w, "fault injection unsupported", http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) dataAuth(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != s.ServiceKey || r.Header.Get("Authorization") != "Bearer "+s.ServiceKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"message": "Invalid API key",
				"hint":    "Double check your Supabase `anon` or `service_role` API key.",
			})
			return
		}
		h(w, r)
	})
}

// FailNext drops the connection of the next n requests with method.
func (s *Server) FailNext(method string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] += n
}

// Count returns how many requests reached method and path, dropped ones included.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method+" "+path]
}

// Executed returns the SQL texts received by the RPC and management paths.
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Reloads returns how many schema reload notifications were received.
func (s *Server) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// InstallHelper makes a SQL helper RPC available.
func (s *Server) InstallHelper(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.helpers[name] = true
}

// AddAuthUser registers an auth principal.
func (s *Server) AddAuthUser(id, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = email
}

// HasIndex reports whether an index was created.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexes[name]
	return ok
}

// HasConstraint reports whether a constraint was added.
func (s *Server) HasConstraint(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.constraints[name]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
