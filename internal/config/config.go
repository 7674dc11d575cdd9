// ABOUTME: Environment-driven configuration for profilectl.
// ABOUTME: Credentials are read from the process environment only, never from files.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultManagementURL is the management surface used when none is configured.
const DefaultManagementURL = "https://api.supabase.com"

// Config stores connection settings for the data, management and backend surfaces.
type Config struct {
	// SupabaseURL is the base URL of the data surface, e.g. https://abcd.supabase.co.
	SupabaseURL string `env:"SUPABASE_URL"`

	// ServiceKey is sent as both apikey and bearer token on the data surface.
	ServiceKey string `env:"SUPABASE_SERVICE_KEY"`

	// AccessToken enables the management SQL endpoint when set.
	AccessToken string `env:"SUPABASE_ACCESS_TOKEN"`

	// BackendURL is the sibling HTTP backend probed by the verifier. Optional.
	BackendURL string `env:"REACT_APP_BACKEND_URL"`

	// ProjectRef overrides the project id derived from SupabaseURL.
	ProjectRef string `env:"SUPABASE_PROJECT_REF"`

	ManagementURL string        `env:"SUPABASE_MANAGEMENT_URL" envDefault:"https://api.supabase.com"`
	Timeout       time.Duration `env:"PROFILECTL_TIMEOUT" envDefault:"30s"`
	PageSize      int           `env:"PROFILECTL_PAGE_SIZE" envDefault:"100"`
}

// Error reports a missing or malformed environment input.
type Error struct {
	Var    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s %s", e.Var, e.Reason)
}

// Load reads config from the process environment and validates it.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom reads config from an explicit environment map. Used by tests.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, &Error{Var: "environment", Reason: err.Error()}
	}
	cfg.SupabaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.SupabaseURL), "/")
	cfg.ServiceKey = strings.TrimSpace(cfg.ServiceKey)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.ProjectRef = strings.TrimSpace(cfg.ProjectRef)
	cfg.BackendURL = strings.TrimSuffix(strings.TrimSpace(cfg.BackendURL), "/")
	cfg.ManagementURL = strings.TrimSuffix(strings.TrimSpace(cfg.ManagementURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required inputs are present and well formed.
func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return &Error{Var: "SUPABASE_URL", Reason: "is required"}
	}
	if err := checkURL(c.SupabaseURL); err != nil {
		return &Error{Var: "SUPABASE_URL", Reason: err.Error()}
	}
	if strings.TrimSpace(c.ServiceKey) == "" {
		return &Error{Var: "SUPABASE_SERVICE_KEY", Reason: "is required"}
	}
	if c.BackendURL != "" {
		if err := checkURL(c.BackendURL); err != nil {
			return &Error{Var: "REACT_APP_BACKEND_URL", Reason: err.Error()}
		}
	}
	if c.Timeout <= 0 {
		return &Error{Var: "PROFILECTL_TIMEOUT", Reason: "must be positive"}
	}
	if c.PageSize <= 0 {
		return &Error{Var: "PROFILECTL_PAGE_SIZE", Reason: "must be positive"}
	}
	if c.ManagementEnabled() {
		if err := checkURL(c.ManagementURL); err != nil {
			return &Error{Var: "SUPABASE_MANAGEMENT_URL", Reason: err.Error()}
		}
		if c.GetProjectRef() == "" {
			return &Error{Var: "SUPABASE_PROJECT_REF", Reason: "is required when SUPABASE_ACCESS_TOKEN is set and cannot be derived from SUPABASE_URL"}
		}
	}
	return nil
}

// ManagementEnabled reports whether a management token is configured.
func (c *Config) ManagementEnabled() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// GetProjectRef returns the configured project ref, or the first DNS label
// of SupabaseURL for hosted projects (abcd.supabase.co -> abcd).
func (c *Config) GetProjectRef() string {
	if c.ProjectRef != "" {
		return c.ProjectRef
	}
	u, err := url.Parse(c.SupabaseURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	return labels[0]
}

// GetManagementURL returns the management base URL, defaulting to DefaultManagementURL.
func (c *Config) GetManagementURL() string {
	if c.ManagementURL == "" {
		return DefaultManagementURL
	}
	return c.ManagementURL
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}
