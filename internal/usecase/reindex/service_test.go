package reindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tabrag/tabrag/internal/chunker"
	"github.com/tabrag/tabrag/internal/domain"
	dombatch "github.com/tabrag/tabrag/internal/domain/batch"
	"github.com/tabrag/tabrag/internal/domain/ranking"
)

// --- Mocks ---

type mockSource struct {
	docs []ranking.Candidate
	err  error
}

func (m *mockSource) AllDocuments(context.Context) ([]ranking.Candidate, error) { return m.docs, m.err }

type mockIndex struct {
	docs    []domain.Document
	saved   int
	saveErr error
}

func (m *mockIndex) Merge(docs []domain.Document) { m.docs = append(m.docs, docs...) }
func (m *mockIndex) Save() error {
	m.saved++
	return m.saveErr
}

type mockEmbedder struct {
	calls  int
	err    error
	failOn string // fail texts containing this substring
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	if m.failOn != "" && strings.Contains(text, m.failOn) {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
	}
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text)), 1}}, nil
}

type mockFactory struct {
	embedder *mockEmbedder
	key      string
}

func (f *mockFactory) ForKey(apiKey string) domain.Embedder {
	f.key = apiKey
	return f.embedder
}

// --- Tests ---

func TestRun_SplitsAndRenumbers(t *testing.T) {
	src := &mockSource{docs: []ranking.Candidate{
		{Text: domain.PlaceholderText, Metadata: map[string]any{domain.MetaMarker: domain.PlaceholderText}},
		{Text: strings.Repeat("a", 12), Metadata: map[string]any{"title": "A", "url": "https://a", "part": 1}},
		{Text: "short", Metadata: map[string]any{"title": "A", "url": "https://a", "part": 2}},
		{Text: "other", Metadata: map[string]any{"url": "https://b"}},
	}}
	factory := &mockFactory{embedder: &mockEmbedder{}}
	idx := &mockIndex{}

	report, err := New(chunker.NewFixed(5), factory, nil).Run(context.Background(), "sk-test", src, idx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if factory.key != "sk-test" {
		t.Errorf("expected embedder for sk-test, got %q", factory.key)
	}
	if report.Documents() != 3 || report.Skipped() != 1 || report.Chunks() != 5 || report.Failed() != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if idx.saved != 1 || len(idx.docs) != 5 {
		t.Fatalf("saved=%d docs=%d", idx.saved, len(idx.docs))
	}

	wantParts := []int{1, 2, 3, 4, 1}
	for i, d := range idx.docs {
		meta := domain.NormalizeMeta(d.Metadata)
		if meta.Part != wantParts[i] {
			t.Errorf("doc %d part = %d, want %d", i, meta.Part, wantParts[i])
		}
	}
	if last := domain.NormalizeMeta(idx.docs[4].Metadata); last.Title != domain.DefaultTitle || last.URL != "https://b" {
		t.Errorf("unexpected meta %+v", last)
	}
}

func TestRun_InvalidKey(t *testing.T) {
	src := &mockSource{}
	_, err := New(chunker.NewFixed(5), &mockFactory{embedder: &mockEmbedder{}}, nil).
		Run(context.Background(), "bad", src, &mockIndex{})
	if !errors.Is(err, domain.ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestRun_SourceUnsupported(t *testing.T) {
	src := &mockSource{err: domain.ErrNotSupported}
	idx := &mockIndex{}
	_, err := New(chunker.NewFixed(5), &mockFactory{embedder: &mockEmbedder{}}, nil).
		Run(context.Background(), "sk-x", src, idx)
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if idx.saved != 0 {
		t.Error("index must not be saved on failure")
	}
}

func TestRun_EmbedErrorIsReportedAndSkipped(t *testing.T) {
	src := &mockSource{docs: []ranking.Candidate{
		{Text: "good", Metadata: map[string]any{"url": "https://a"}},
		{Text: "bad", Metadata: map[string]any{"url": "https://b"}},
		{Text: "fine", Metadata: map[string]any{"url": "https://c"}},
	}}
	idx := &mockIndex{}

	report, err := New(chunker.NewFixed(5), &mockFactory{embedder: &mockEmbedder{failOn: "bad"}}, nil).
		Run(context.Background(), "sk-x", src, idx)
	if err != nil {
		t.Fatalf("one failed document must not abort the run: %v", err)
	}
	if report.Documents() != 2 || report.Failed() != 1 || report.Chunks() != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if idx.saved != 1 || len(idx.docs) != 2 {
		t.Fatalf("saved=%d docs=%d", idx.saved, len(idx.docs))
	}

	failed := report.Results[1]
	if failed.URL() != "https://b" || failed.Status() != dombatch.StatusError ||
		!errors.Is(failed.Err(), domain.ErrEmbeddingProviderError) {
		t.Errorf("unexpected failure result url=%q status=%q err=%v", failed.URL(), failed.Status(), failed.Err())
	}
}

func TestRun_EmbedError(t *testing.T) {
	src := &mockSource{docs: []ranking.Candidate{{Text: "hello", Metadata: map[string]any{"url": "https://a"}}}}
	emb := &mockEmbedder{err: domain.ErrEmbeddingProviderError}
	idx := &mockIndex{}

	_, err := New(chunker.NewFixed(5), &mockFactory{embedder: emb}, nil).Run(context.Background(), "sk-x", src, idx)
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected embedding error, got %v", err)
	}
	if idx.saved != 0 {
		t.Error("index must not be saved on failure")
	}
}

func TestRun_SaveError(t *testing.T) {
	src := &mockSource{docs: []ranking.Candidate{{Text: "hello", Metadata: map[string]any{"url": "https://a"}}}}
	idx := &mockIndex{saveErr: errors.New("disk full")}

	report, err := New(chunker.NewFixed(5), &mockFactory{embedder: &mockEmbedder{}}, nil).
		Run(context.Background(), "sk-x", src, idx)
	if err == nil {
		t.Fatal("expected save error")
	}
	if report.Chunks() != 1 {
		t.Errorf("expected partial report, got %+v", report)
	}
}
