package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/keeperhq/keeper/internal/domain"
)

// HTTPClient talks to the backend's row API over HTTP/JSON.
//
// Endpoints:
//
//	POST   /v1/{table}          insert (body: row)
//	PATCH  /v1/{table}          update (body: {filter, patch})
//	DELETE /v1/{table}?col=val  delete
//	GET    /v1/{table}?col=val  select
//
// Structured backend errors arrive as {"code": "...", "message": "...",
// "field": "..."} with a non-2xx status and are decoded into *Error.
// Deadline exceedance is translated into domain.NetworkTimeoutError so the
// engine's queue-fallback path can branch on it.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the backend at baseURL. httpClient may
// be nil; timeouts are enforced per call via context, not the transport.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPClient{baseURL: baseURL, http: httpClient}
}

var _ Store = (*HTTPClient)(nil)

type updateRequest struct {
	Filter Filter `json:"filter"`
	Patch  Row    `json:"patch"`
}

type errorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Insert implements Store.
func (c *HTTPClient) Insert(ctx context.Context, table string, row Row) (Row, error) {
	var out Row
	err := c.do(ctx, http.MethodPost, table, nil, row, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update implements Store.
func (c *HTTPClient) Update(ctx context.Context, table string, filter Filter, patch Row) (Row, error) {
	var out Row
	err := c.do(ctx, http.MethodPatch, table, nil, updateRequest{Filter: filter, Patch: patch}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete implements Store.
func (c *HTTPClient) Delete(ctx context.Context, table string, filter Filter) error {
	return c.do(ctx, http.MethodDelete, table, filter, nil, nil)
}

// Select implements Store.
func (c *HTTPClient) Select(ctx context.Context, table string, filter Filter) ([]Row, error) {
	var out []Row
	if err := c.do(ctx, http.MethodGet, table, filter, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, table string, query Filter, body, out any) error {
	u := fmt.Sprintf("%s/v1/%s", c.baseURL, table)
	if len(query) > 0 {
		vals := url.Values{}
		for k, v := range query {
			vals.Set(k, fmt.Sprint(v))
		}
		u += "?" + vals.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, table, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, table, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &domain.NetworkTimeoutError{Call: method + " " + table, Err: err}
		}
		return fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&eb); decodeErr == nil && eb.Code != "" {
			return &Error{Code: eb.Code, Message: eb.Message, Field: eb.Field}
		}
		return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("%s %s: http %d", method, table, resp.StatusCode)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, table, err)
		}
	}
	return nil
}
