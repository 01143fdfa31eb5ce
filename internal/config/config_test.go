package config

import (
	"errors"
	"testing"

	"github.com/tabrag/tabrag/internal/domain"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("http:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.MaxBodyBytes != 50<<20 {
		t.Errorf("expected 50MB body limit, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.OpenAI.KeyPrefix != "sk-" {
		t.Errorf("expected KeyPrefix='sk-', got %q", cfg.OpenAI.KeyPrefix)
	}
	if cfg.Chunking.MaxChars != 5000 || cfg.Chunking.MinChars != 50 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Search.ChatTopK != 10 || cfg.Search.SearchTopK != 5 || cfg.Search.FallbackTopK != 5 {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Index.Path != "./data/tabs.index" {
		t.Errorf("unexpected index path %q", cfg.Index.Path)
	}
	if cfg.Backend.Kind != domain.BackendNone {
		t.Errorf("expected no backend, got %q", cfg.Backend.Kind)
	}
	if cfg.Cache.Enabled() {
		t.Error("cache should be disabled by default")
	}
}

func TestParse_DefaultPort(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.HTTP.Port)
	}
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TABRAG_TEST_DSN", "postgres://u:p@db:5432/tabs")

	data := []byte(`
backend:
  kind: local
  dsn: ${TABRAG_TEST_DSN}
scraper:
  api_key: ${TABRAG_TEST_MISSING:-fc-default}
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.DSN != "postgres://u:p@db:5432/tabs" {
		t.Errorf("unexpected dsn %q", cfg.Backend.DSN)
	}
	if cfg.Scraper.APIKey != "fc-default" {
		t.Errorf("expected default api key, got %q", cfg.Scraper.APIKey)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Config{HTTP: HTTPConfig{Port: 70000}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		backend domain.BackendConfig
		wantErr bool
	}{
		{"none", domain.BackendConfig{}, false},
		{"supabase ok", domain.BackendConfig{Kind: domain.BackendSupabase, DSN: "postgres://x"}, false},
		{"supabase rest ok", domain.BackendConfig{Kind: domain.BackendSupabase, URL: "https://ref.supabase.co", Key: "k"}, false},
		{"supabase url without key", domain.BackendConfig{Kind: domain.BackendSupabase, URL: "https://ref.supabase.co"}, true},
		{"supabase missing dsn", domain.BackendConfig{Kind: domain.BackendSupabase}, true},
		{"local missing dsn", domain.BackendConfig{Kind: domain.BackendLocal}, true},
		{"sqlite ok", domain.BackendConfig{Kind: domain.BackendSQLite, Path: "./data/tabs.db"}, false},
		{"sqlite missing path", domain.BackendConfig{Kind: domain.BackendSQLite}, true},
		{"redis missing addrs", domain.BackendConfig{Kind: domain.BackendRedis}, true},
		{"qdrant missing url", domain.BackendConfig{Kind: domain.BackendQdrant}, true},
		{"moorcheh missing key", domain.BackendConfig{Kind: domain.BackendMoorcheh}, true},
		{"unknown", domain.BackendConfig{Kind: "faiss"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Backend: tc.backend}
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_UnknownBackendSentinel(t *testing.T) {
	cfg := Config{Backend: domain.BackendConfig{Kind: "pinecone"}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); !errors.Is(err, domain.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestValidate_ChunkLimits(t *testing.T) {
	cfg := Config{Chunking: ChunkingConfig{MaxChars: 40, MinChars: 50}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min_chars >= max_chars")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TABRAG_A", "alpha")
	got := string(expandEnvVars([]byte("a=${TABRAG_A} b=${TABRAG_B:-beta} c=${TABRAG_C}")))
	if got != "a=alpha b=beta c=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestParse_Tracing(t *testing.T) {
	cfg, err := Parse([]byte("tracing:\n  endpoint: otel:4317\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tracing.ServiceName != "tabrag" || cfg.Tracing.SampleRate != 1 {
		t.Errorf("unexpected tracing defaults: %+v", cfg.Tracing)
	}

	cfg, err = Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tracing.Endpoint != "" || cfg.Tracing.SampleRate != 0 {
		t.Errorf("tracing should be off by default: %+v", cfg.Tracing)
	}

	if _, err := Parse([]byte("tracing:\n  sample_rate: 1.5\n")); err == nil {
		t.Error("expected error for sample_rate above 1")
	}
}
