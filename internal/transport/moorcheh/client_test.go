package moorcheh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "moor-key", 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New("", "", time.Second); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCreateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"created", http.StatusCreated, false},
		{"exists", http.StatusConflict, false},
		{"forbidden", http.StatusForbidden, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/namespaces" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if r.Header.Get("x-api-key") != "moor-key" {
					t.Errorf("missing api key header")
				}
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				if body["namespace_name"] != "tabs" || body["type"] != "vector" || body["vector_dimension"] != float64(3) {
					t.Errorf("unexpected body %v", body)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{}`))
			})

			err := c.CreateNamespace(context.Background(), "tabs", NamespaceVector, 3)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			var apiErr *APIError
			if tc.wantErr && !errors.As(err, &apiErr) {
				t.Errorf("expected *APIError, got %T", err)
			}
		})
	}
}

func TestCreateNamespace_TextOmitsDimension(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["vector_dimension"]; ok {
			t.Errorf("text namespace must not send vector_dimension")
		}
		w.WriteHeader(http.StatusCreated)
	})
	if err := c.CreateNamespace(context.Background(), "notes", NamespaceText, 0); err != nil {
		t.Fatal(err)
	}
}

func TestUploadVectors_FlattensMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/namespaces/my%20tabs/vectors" && r.URL.Path != "/namespaces/my tabs/vectors" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Vectors []map[string]any `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Vectors) != 1 {
			t.Fatalf("expected 1 vector, got %d", len(body.Vectors))
		}
		v := body.Vectors[0]
		if v["id"] != "u::part:1" || v["url"] != "https://a" || v["text"] != "hello" {
			t.Errorf("unexpected vector %v", v)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.UploadVectors(context.Background(), "my tabs", []Vector{{
		ID:       "u::part:1",
		Vector:   []float32{0.1, 0.2},
		Metadata: map[string]any{"url": "https://a", "text": "hello"},
	}})
	if err != nil {
		t.Fatalf("UploadVectors: %v", err)
	}
}

func TestUploadVectors_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty upload")
	})
	if err := c.UploadVectors(context.Background(), "tabs", nil); err != nil {
		t.Fatal(err)
	}
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Namespaces []string  `json:"namespaces"`
			Query      []float64 `json:"query"`
			TopK       int       `json:"top_k"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.TopK != 10 || len(req.Query) != 2 || req.Namespaces[0] != "tabs" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"a","score":0.9,"text":"hi","metadata":{"url":"https://a"}}],"execution_time":0.01}`))
	})

	resp, err := c.Search(context.Background(), SearchRequest{
		Namespaces: []string{"tabs"},
		Query:      []float32{1, 0},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Score != 0.9 || resp.Results[0].Metadata["url"] != "https://a" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSearch_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`bad key`))
	})

	if _, err := c.Search(context.Background(), SearchRequest{}); err == nil {
		t.Error("expected error without namespaces")
	}
	_, err := c.Search(context.Background(), SearchRequest{Namespaces: []string{"tabs"}, Query: "q"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}
