// ABOUTME: Table select/insert/update and RPC calls on the PostgREST data surface.
// ABOUTME: Also reads auth principals through the admin users endpoint.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Select reads rows from table.
func (c *Client) Select(ctx context.Context, table string, q Query) ([]Record, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.restURL(url.PathEscape(table), q.Values()),
	})
	if err != nil {
		return nil, err
	}
	var rows []Record
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s rows: %w", table, err)
	}
	return rows, nil
}

// Insert adds one row and returns it as stored.
func (c *Client) Insert(ctx context.Context, table string, row any) (Record, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("marshal %s row: %w", table, err)
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.restURL(url.PathEscape(table), nil),
		body:   body,
		prefer: "return=representation",
	})
	if err != nil {
		return nil, err
	}
	var rows []Record
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, fmt.Errorf("decode inserted %s row: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no rows", table)
	}
	return rows[0], nil
}

// Update applies patch to rows matching filters and returns the ids of the
// affected rows. At least one filter is required.
func (c *Client) Update(ctx context.Context, table string, patch any, filters ...Filter) ([]Record, error) {
	if len(filters) == 0 {
		return nil, errors.New("update requires at least one filter")
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal %s patch: %w", table, err)
	}
	values := filterValues(filters)
	values.Set("select", "id")
	resp, err := c.do(ctx, request{
		method: http.MethodPatch,
		url:    c.restURL(url.PathEscape(table), values),
		body:   body,
		prefer: "return=representation",
	})
	if err != nil {
		return nil, err
	}
	var rows []Record
	if len(resp.body) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, fmt.Errorf("decode updated %s rows: %w", table, err)
	}
	return rows, nil
}

// RPC invokes a database function with named arguments.
func (c *Client) RPC(ctx context.Context, name string, args any) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc args: %w", err)
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.restURL("rpc/"+url.PathEscape(name), nil),
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.body), nil
}

// AuthUserEmail returns the email of an auth principal, read through the
// admin users endpoint with the service key.
func (c *Client) AuthUserEmail(ctx context.Context, userID string) (string, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    c.BaseURL + "/auth/v1/admin/users/" + url.PathEscape(userID),
	})
	if err != nil {
		return "", err
	}
	var user struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(resp.body, &user); err != nil {
		return "", fmt.Errorf("decode auth user: %w", err)
	}
	return user.Email, nil
}
