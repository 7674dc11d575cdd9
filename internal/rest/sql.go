// ABOUTME: Raw SQL execution via the management endpoint or a helper RPC on the data surface.
// ABOUTME: Helper discovery is probed once per client and cached.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ExecPath names the route a SQL statement was sent over.
type ExecPath string

const (
	PathManagement ExecPath = "management"
	PathRPC        ExecPath = "rpc"
	PathNone       ExecPath = "none"
)

// ReloadSchemaSQL asks PostgREST to refresh its schema cache.
const ReloadSchemaSQL = "NOTIFY pgrst, 'reload schema'"

// ManagementSQL runs sql through the management API query endpoint.
func (c *Client) ManagementSQL(ctx context.Context, sql string) (json.RawMessage, error) {
	if !c.ManagementEnabled() {
		return nil, fmt.Errorf("management API not configured")
	}
	body, err := json.Marshal(map[string]string{"query": sql})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	resp, err := c.do(ctx, request{
		method:  http.MethodPost,
		url:     c.ManagementURL + "/v1/projects/" + url.PathEscape(c.ProjectRef) + "/database/query",
		body:    body,
		surface: managementSurface,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.body), nil
}

// SQLHelper returns the first installed helper RPC, or nil when none is.
// A definitive answer is cached; transient failures are not. A rejected
// service key is returned unwrapped.
func (c *Client) SQLHelper(ctx context.Context) (*Helper, error) {
	c.mu.Lock()
	if c.helperProbed {
		h := c.helper
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	var found *Helper
	for _, h := range c.helpersOrDefault() {
		_, err := c.RPC(ctx, h.Name, map[string]string{h.Arg: "SELECT 1"})
		if err == nil {
			h := h
			found = &h
			break
		}
		if IsKind(err, KindMissingFunction) {
			continue
		}
		if CredentialsRejected(err) {
			return nil, err
		}
		return nil, fmt.Errorf("probe helper %s: %w", h.Name, err)
	}

	c.mu.Lock()
	c.helperProbed = true
	c.helper = found
	c.mu.Unlock()
	if found != nil {
		c.logger().Debug("sql helper found", "name", found.Name)
	}
	return found, nil
}

// ApplySQL runs sql over the management endpoint when configured, otherwise
// (or when that path is unavailable) over a helper RPC. A rejection by the
// database is returned as is with the path that produced it. When no path
// could run the statement the error wraps ErrNoExecPath, unless the data
// surface rejected the service key, which is returned as is.
func (c *Client) ApplySQL(ctx context.Context, sql string) (ExecPath, error) {
	var reasons []string

	if c.ManagementEnabled() {
		_, err := c.ManagementSQL(ctx, sql)
		if err == nil {
			return PathManagement, nil
		}
		if isSQLLevel(err) {
			return PathManagement, err
		}
		c.logger().Warn("management path failed", "err", err)
		reasons = append(reasons, "management: "+err.Error())
	} else {
		reasons = append(reasons, "management: no access token or project ref")
	}

	helper, err := c.SQLHelper(ctx)
	switch {
	case CredentialsRejected(err):
		return PathNone, err
	case err != nil:
		reasons = append(reasons, err.Error())
	case helper == nil:
		var names []string
		for _, h := range c.helpersOrDefault() {
			names = append(names, h.Name)
		}
		reasons = append(reasons, "rpc: none of "+strings.Join(names, ", ")+" installed")
	default:
		_, err := c.RPC(ctx, helper.Name, map[string]string{helper.Arg: sql})
		if err == nil {
			return PathRPC, nil
		}
		if isSQLLevel(err) || CredentialsRejected(err) {
			return PathRPC, err
		}
		reasons = append(reasons, "rpc "+helper.Name+": "+err.Error())
	}

	return PathNone, fmt.Errorf("%w: %s", ErrNoExecPath, strings.Join(reasons, "; "))
}

func (c *Client) helpersOrDefault() []Helper {
	if len(c.Helpers) == 0 {
		return DefaultHelpers
	}
	return c.Helpers
}

// ReloadSchema asks PostgREST to reload its schema cache.
func (c *Client) ReloadSchema(ctx context.Context) error {
	_, err := c.ApplySQL(ctx, ReloadSchemaSQL)
	return err
}

// ExecPaths lists the SQL paths that look usable right now.
func (c *Client) ExecPaths(ctx context.Context) []ExecPath {
	var paths []ExecPath
	if c.ManagementEnabled() {
		paths = append(paths, PathManagement)
	}
	if h, err := c.SQLHelper(ctx); err == nil && h != nil {
		paths = append(paths, PathRPC)
	}
	return paths
}
