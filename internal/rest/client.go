// ABOUTME: Authenticated HTTP client for the PostgREST data surface and the management SQL endpoint.
// ABOUTME: Retries network failures with bounded exponential backoff and returns classified errors.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/harperreed/profilectl/internal/config"
)

// MaxAttempts bounds tries per request for network failures.
const MaxAttempts = 3

// Client talks to the data surface with the service key and, when a token
// is configured, to the management surface.
type Client struct {
	BaseURL       string
	ServiceKey    string
	ManagementURL string
	ProjectRef    string
	AccessToken   string
	RunID         string
	HTTPClient    *http.Client

	// NewBackOff returns a fresh retry policy per request. Policies are
	// stateful, so this must not return a shared instance.
	NewBackOff func() backoff.BackOff

	// Helpers lists candidate SQL helper functions in discovery order.
	Helpers []Helper

	Logger *log.Logger

	mu           sync.Mutex
	helperProbed bool
	helper       *Helper
}

// Helper is a database function that executes its text argument as SQL.
type Helper struct {
	Name string
	Arg  string
}

// DefaultHelpers are the helper RPCs probed when Helpers is empty.
var DefaultHelpers = []Helper{
	{Name: "exec_sql", Arg: "sql"},
	{Name: "exec", Arg: "sql"},
}

// NewClient creates a client from validated config.
func NewClient(cfg *config.Config, runID string) *Client {
	return &Client{
		BaseURL:       strings.TrimSuffix(cfg.SupabaseURL, "/"),
		ServiceKey:    strings.TrimSpace(cfg.ServiceKey),
		ManagementURL: strings.TrimSuffix(cfg.GetManagementURL(), "/"),
		ProjectRef:    cfg.GetProjectRef(),
		AccessToken:   strings.TrimSpace(cfg.AccessToken),
		RunID:         runID,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.HTTPClient = hc
	return c
}

// WithLogger sets the diagnostic logger.
func (c *Client) WithLogger(l *log.Logger) *Client {
	c.Logger = l
	return c
}

// ManagementEnabled reports whether the management SQL path is configured.
func (c *Client) ManagementEnabled() bool {
	return c.AccessToken != "" && c.ProjectRef != ""
}

func (c *Client) logger() *log.Logger {
	if c.Logger == nil {
		return log.New(io.Discard)
	}
	return c.Logger
}

func (c *Client) newBackOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 4 * time.Second
	return backoff.WithMaxRetries(bo, MaxAttempts-1)
}

type surface int

const (
	dataSurface surface = iota
	managementSurface
)

type request struct {
	method  string
	url     string
	body    []byte
	prefer  string
	surface surface
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs req, retrying network failures until the backoff policy or
// the context gives up.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	var resp *response
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.doOnce(ctx, req)
		if err == nil {
			resp = r
			return nil
		}
		if IsKind(err, KindNetwork) && ctx.Err() == nil {
			c.logger().Warn("request failed, retrying", "method", req.method, "url", redact(req.url), "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, req request) (*response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Client-Info", "profilectl/"+c.RunID)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}
	switch req.surface {
	case dataSurface:
		httpReq.Header.Set("apikey", c.ServiceKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	case managementSurface:
		httpReq.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	c.logger().Debug("request", "method", req.method, "url", redact(req.url))
	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, networkError(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var payload errorPayload
		if jsonErr := json.Unmarshal(respBody, &payload); jsonErr != nil || payload.message() == "" && payload.Code == "" {
			payload.Message = strings.TrimSpace(string(respBody))
		}
		return nil, classify(httpResp.StatusCode, payload)
	}

	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: respBody}, nil
}

// redact strips query values so filters carrying personal data stay out of logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}

func (c *Client) restURL(path string, values url.Values) string {
	u := c.BaseURL + "/rest/v1/" + path
	if len(values) > 0 {
		u += "?" + values.Encode()
	}
	return u
}
