package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	"github.com/tabrag/tabrag/internal/vectorstore/postgres"
	"github.com/tabrag/tabrag/internal/vectorstore/supabase"
)

// --- Mocks ---

type mockStore struct {
	name    string
	closed  bool
	pingErr error
}

func (m *mockStore) Init(context.Context) error                            { return nil }
func (m *mockStore) AddDocuments(context.Context, []domain.Document) error { return nil }
func (m *mockStore) Close() error                                          { m.closed = true; return nil }
func (m *mockStore) Ping(context.Context) error                            { return m.pingErr }

func (m *mockStore) AllDocuments(context.Context) ([]ranking.Candidate, error) {
	return nil, nil
}

type mockOpener struct {
	mu     sync.Mutex
	stores map[domain.BackendKind]*mockStore
	err    error
	calls  []domain.BackendConfig
}

func (m *mockOpener) Open(_ context.Context, cfg domain.BackendConfig) (domain.VectorStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cfg)
	if m.err != nil {
		return nil, m.err
	}
	s := &mockStore{name: string(cfg.Kind)}
	if m.stores == nil {
		m.stores = map[domain.BackendKind]*mockStore{}
	}
	m.stores[cfg.Kind] = s
	return s, nil
}

// --- Service ---

func TestCurrent_NoBackend(t *testing.T) {
	svc := New(&mockOpener{}, nil)
	if _, _, err := svc.Current(); !errors.Is(err, domain.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
	if err := svc.Ping(context.Background()); !errors.Is(err, domain.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend from Ping, got %v", err)
	}
}

func TestSwitch_ReplacesAndClosesPrevious(t *testing.T) {
	op := &mockOpener{}
	svc := New(op, nil)
	ctx := context.Background()

	if err := svc.Switch(ctx, domain.BackendConfig{Kind: domain.BackendSQLite, Path: "a.db"}); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if err := svc.Switch(ctx, domain.BackendConfig{Kind: domain.BackendLocal, DSN: "postgres://x"}); err != nil {
		t.Fatalf("second switch: %v", err)
	}

	store, kind, err := svc.Current()
	if err != nil || kind != domain.BackendLocal {
		t.Fatalf("expected local backend, got %q %v", kind, err)
	}
	if store.(*mockStore).name != "local" {
		t.Errorf("unexpected active store %+v", store)
	}
	if !op.stores[domain.BackendSQLite].closed {
		t.Error("previous store must be closed")
	}
}

func TestSwitch_FailureKeepsPrevious(t *testing.T) {
	op := &mockOpener{}
	svc := New(op, nil)
	ctx := context.Background()
	if err := svc.Switch(ctx, domain.BackendConfig{Kind: domain.BackendSQLite, Path: "a.db"}); err != nil {
		t.Fatal(err)
	}

	op.err = errors.New("connection refused")
	if err := svc.Switch(ctx, domain.BackendConfig{Kind: domain.BackendLocal, DSN: "postgres://x"}); err == nil {
		t.Fatal("expected error")
	}

	_, kind, err := svc.Current()
	if err != nil || kind != domain.BackendSQLite {
		t.Fatalf("expected sqlite to remain active, got %q %v", kind, err)
	}
	if op.stores[domain.BackendSQLite].closed {
		t.Error("previous store must stay open after a failed switch")
	}
}

func TestSwitch_EmptyKind(t *testing.T) {
	svc := New(&mockOpener{}, nil)
	if err := svc.Switch(context.Background(), domain.BackendConfig{}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPing_DelegatesToStore(t *testing.T) {
	op := &mockOpener{}
	svc := New(op, nil)
	if err := svc.Switch(context.Background(), domain.BackendConfig{Kind: domain.BackendSQLite, Path: "a"}); err != nil {
		t.Fatal(err)
	}
	op.stores[domain.BackendSQLite].pingErr = errors.New("disk gone")
	if err := svc.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestClose(t *testing.T) {
	op := &mockOpener{}
	svc := New(op, nil)
	if err := svc.Switch(context.Background(), domain.BackendConfig{Kind: domain.BackendSQLite, Path: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if !op.stores[domain.BackendSQLite].closed {
		t.Error("store not closed")
	}
	if _, _, err := svc.Current(); !errors.Is(err, domain.ErrNoBackend) {
		t.Errorf("expected no backend after Close, got %v", err)
	}
}

func TestSwitch_Concurrent(t *testing.T) {
	svc := New(&mockOpener{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.Switch(context.Background(), domain.BackendConfig{Kind: domain.BackendSQLite, Path: "a"})
		}()
		go func() {
			defer wg.Done()
			_, _, _ = svc.Current()
		}()
	}
	wg.Wait()
	if _, kind, err := svc.Current(); err != nil || kind != domain.BackendSQLite {
		t.Fatalf("unexpected state %q %v", kind, err)
	}
}

// --- Factory ---

func TestFactory_OpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabs.db")
	store, err := NewFactory(nil, nil).Open(context.Background(), domain.BackendConfig{Kind: domain.BackendSQLite, Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(domain.SimilaritySearcher); !ok {
		t.Error("sqlite store should support similarity search")
	}
}

func TestFactory_OpenSupabaseFromLegacyBody(t *testing.T) {
	var (
		mu              sync.Mutex
		gotKey, gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotKey, gotPath = r.Header.Get("apikey"), r.URL.Path
		mu.Unlock()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg, err := ConfigRequest{SupabaseURL: srv.URL, SupabaseKey: "anon-key"}.BackendConfig()
	if err != nil {
		t.Fatalf("BackendConfig: %v", err)
	}
	store, err := NewFactory(nil, nil).Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*supabase.Store); !ok {
		t.Errorf("expected REST store, got %T", store)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotKey != "anon-key" || gotPath != "/rest/v1/documents" {
		t.Errorf("init hit %s with key %q", gotPath, gotKey)
	}
}

func TestFactory_SupabasePostgresURLUsesPgx(t *testing.T) {
	f := NewFactory(nil, nil)
	for _, cfg := range []domain.BackendConfig{
		{Kind: domain.BackendSupabase, DSN: "postgres://postgres@db.ref.supabase.co:5432/postgres", Key: "k"},
		{Kind: domain.BackendSupabase, URL: "postgresql://postgres@db.ref.supabase.co:5432/postgres", Key: "k"},
	} {
		store, err := f.build(cfg)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, ok := store.(*postgres.Store); !ok {
			t.Errorf("%+v: expected postgres store, got %T", cfg, store)
		}
	}
}

func TestFactory_SupabaseURLWithoutKey(t *testing.T) {
	_, err := NewFactory(nil, nil).Open(context.Background(), domain.BackendConfig{Kind: domain.BackendSupabase, URL: "https://ref.supabase.co"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestFactory_UnknownKind(t *testing.T) {
	_, err := NewFactory(nil, nil).Open(context.Background(), domain.BackendConfig{Kind: "faiss"})
	if !errors.Is(err, domain.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestFactory_MissingFields(t *testing.T) {
	f := NewFactory(nil, nil)
	for _, cfg := range []domain.BackendConfig{
		{Kind: domain.BackendSupabase},
		{Kind: domain.BackendLocal},
		{Kind: domain.BackendSQLite},
		{Kind: domain.BackendRedis},
		{Kind: domain.BackendQdrant},
	} {
		if _, err := f.Open(context.Background(), cfg); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("%s: expected ErrInvalidRequest, got %v", cfg.Kind, err)
		}
	}
}

func TestFactory_MoorchehRequiresKey(t *testing.T) {
	_, err := NewFactory(nil, nil).Open(context.Background(), domain.BackendConfig{Kind: domain.BackendMoorcheh})
	if err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestGRPCAddr(t *testing.T) {
	tests := map[string]string{
		"localhost:6334":                   "localhost:6334",
		"http://qdrant:6334":               "qdrant:6334",
		"https://xyz.cloud.qdrant.io:6334": "xyz.cloud.qdrant.io:6334",
	}
	for in, want := range tests {
		if got := grpcAddr(in); got != want {
			t.Errorf("grpcAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
