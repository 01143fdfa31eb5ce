// Package moorcheh is a minimal client for the Moorcheh vector search API.
package moorcheh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.moorcheh.ai/v1"

// maxResponseBody caps how much of a response is read into memory.
const maxResponseBody = 16 << 20

// NamespaceType selects how a namespace is indexed.
type NamespaceType string

// Namespace types.
const (
	NamespaceText   NamespaceType = "text"
	NamespaceVector NamespaceType = "vector"
)

// ErrMissingAPIKey is returned by New when no key is given.
var ErrMissingAPIKey = errors.New("moorcheh API key required")

// APIError is a non-2xx response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("moorcheh %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the Moorcheh REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Vector is one uploaded point. Metadata fields are flattened next to id and vector.
type Vector struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// MarshalJSON flattens metadata into the vector object.
func (v Vector) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(v.Metadata)+2)
	for k, val := range v.Metadata {
		m[k] = val
	}
	m["id"] = v.ID
	m["vector"] = v.Vector
	return json.Marshal(m)
}

// SearchRequest is a text or vector query across namespaces.
type SearchRequest struct {
	Namespaces []string `json:"namespaces"`
	Query      any      `json:"query"` // string or []float32
	TopK       int      `json:"top_k"`
	KioskMode  bool     `json:"kiosk_mode"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// SearchResult is one hit.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Label    string         `json:"label"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// SearchResponse is the search payload.
type SearchResponse struct {
	Results       []SearchResult `json:"results"`
	ExecutionTime float64        `json:"execution_time"`
}

// CreateNamespace creates a namespace. An existing namespace (409) is not an error.
func (c *Client) CreateNamespace(ctx context.Context, name string, typ NamespaceType, dims int) error {
	body := map[string]any{"namespace_name": name, "type": typ}
	if typ == NamespaceVector {
		body["vector_dimension"] = dims
	}

	status, raw, err := c.post(ctx, "/namespaces", body)
	if err != nil {
		return fmt.Errorf("create namespace %s: %w", name, err)
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return &APIError{Op: "create namespace", Status: status, Body: string(raw)}
	}
}

// UploadVectors stores vectors in a vector namespace.
func (c *Client) UploadVectors(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	path := "/namespaces/" + url.PathEscape(namespace) + "/vectors"

	status, raw, err := c.post(ctx, path, map[string]any{"vectors": vectors})
	if err != nil {
		return fmt.Errorf("upload vectors: %w", err)
	}
	if status < 200 || status >= 300 {
		return &APIError{Op: "upload vectors", Status: status, Body: string(raw)}
	}
	return nil
}

// Search queries one or more namespaces.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	if len(req.Namespaces) == 0 {
		return SearchResponse{}, errors.New("moorcheh search: namespaces required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	status, raw, err := c.post(ctx, "/search", req)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search: %w", err)
	}
	if status < 200 || status >= 300 {
		return SearchResponse{}, &APIError{Op: "search", Status: status, Body: string(raw)}
	}

	var resp SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return SearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

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
