package moorcheh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/transport/moorcheh"
)

type fakeServer struct {
	mu      sync.Mutex
	uploads [][]map[string]any
	created []map[string]any
	search  map[string]any
}

func newFakeServer(t *testing.T) (*fakeServer, *moorcheh.Client) {
	t.Helper()
	fs := &fakeServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch {
		case r.URL.Path == "/namespaces":
			fs.created = append(fs.created, body)
			w.WriteHeader(http.StatusConflict)
		case strings.HasSuffix(r.URL.Path, "/vectors"):
			var batch []map[string]any
			for _, v := range body["vectors"].([]any) {
				batch = append(batch, v.(map[string]any))
			}
			fs.uploads = append(fs.uploads, batch)
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/search":
			fs.search = body
			_, _ = w.Write([]byte(`{"results":[{"id":"https://a::part:1","score":0.9,
				"metadata":{"title":"A","url":"https://a","part":1,"text":"alpha"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := moorcheh.New(srv.URL, "mk-test", 5*time.Second)
	if err != nil {
		t.Fatalf("moorcheh.New: %v", err)
	}
	return fs, c
}

func TestInit_CreatesVectorNamespace(t *testing.T) {
	fs, c := newFakeServer(t)
	if err := New(c, "", 8, nil).Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(fs.created))
	}
	got := fs.created[0]
	if got["namespace_name"] != DefaultNamespace || got["type"] != "vector" || got["vector_dimension"] != float64(8) {
		t.Errorf("unexpected create body %v", got)
	}
}

func TestInit_RequiresDimensions(t *testing.T) {
	_, c := newFakeServer(t)
	if err := New(c, "ns", 0, nil).Init(context.Background()); err == nil {
		t.Fatal("expected error without dimensions")
	}
}

func TestAddDocuments_BatchesAndIDs(t *testing.T) {
	fs, c := newFakeServer(t)
	s := New(c, "ns", 2, nil)

	docs := make([]domain.Document, 45)
	for i := range docs {
		docs[i] = domain.NewChunkDocument(domain.Tab{Title: "T", URL: "https://a"}, i+1, fmt.Sprintf("chunk %d", i), []float32{1, 0})
	}
	if err := s.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fs.uploads) != 2 || len(fs.uploads[0]) != uploadBatch || len(fs.uploads[1]) != 5 {
		t.Fatalf("unexpected batches: %d", len(fs.uploads))
	}
	first := fs.uploads[0][0]
	if first["id"] != "https://a::part:1" || first["text"] != "chunk 0" || first["title"] != "T" {
		t.Errorf("unexpected vector %v", first)
	}
}

func TestAllDocuments_NotSupported(t *testing.T) {
	_, c := newFakeServer(t)
	_, err := New(c, "ns", 2, nil).AllDocuments(context.Background())
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestSimilaritySearch(t *testing.T) {
	fs, c := newFakeServer(t)
	got, err := New(c, "ns", 2, nil).SimilaritySearch(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.search["top_k"] != float64(3) {
		t.Errorf("unexpected search body %v", fs.search)
	}
	if len(got) != 1 || got[0].Text != "alpha" || got[0].Score != 0.9 {
		t.Fatalf("unexpected results %+v", got)
	}
	if _, ok := got[0].Metadata["text"]; ok {
		t.Error("text must not leak into metadata")
	}
	if got[0].Metadata["url"] != "https://a" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
}

func TestDocumentID(t *testing.T) {
	if id := documentID(map[string]any{"url": "https://x", "part": 2}); id != "https://x::part:2" {
		t.Errorf("documentID() = %q", id)
	}
	if id := documentID(nil); len(id) != 36 {
		t.Errorf("expected uuid fallback, got %q", id)
	}
	long := "https://x/" + strings.Repeat("a", 2000)
	if id := documentID(map[string]any{"url": long}); len(id) != maxIDLen {
		t.Errorf("expected id capped at %d, got %d", maxIDLen, len(id))
	}
}
