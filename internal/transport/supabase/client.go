// Package supabase is a minimal client for the PostgREST API a Supabase
// project exposes under /rest/v1.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const restPath = "/rest/v1/"

// maxResponseBody caps how much of a response is read into memory.
const maxResponseBody = 64 << 20

// Errors returned by New.
var (
	ErrMissingURL    = errors.New("supabase project url required")
	ErrMissingAPIKey = errors.New("supabase api key required")
)

// APIError is a non-2xx response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the PostgREST endpoint of one project.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the project at projectURL (https://<ref>.supabase.co).
func New(projectURL, apiKey string, timeout time.Duration) (*Client, error) {
	if projectURL == "" {
		return nil, ErrMissingURL
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		baseURL: strings.TrimRight(projectURL, "/") + restPath,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Insert posts rows to table without asking for the inserted rows back.
func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, table, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	status, raw, err := c.do(req)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if status/100 != 2 {
		return &APIError{Op: "insert " + table, Status: status, Body: string(raw)}
	}
	return nil
}

// Select runs a GET on table with the given PostgREST query parameters and
// decodes the JSON array response into out.
func (c *Client) Select(ctx context.Context, table string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	status, raw, err := c.do(req)
	if err != nil {
		return fmt.Errorf("select from %s: %w", table, err)
	}
	if status != http.StatusOK && status != http.StatusPartialContent {
		return &APIError{Op: "select " + table, Status: status, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s rows: %w", table, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, table string, params url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + url.PathEscape(table)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
