package backend

import (
	"fmt"
	"strings"

	"github.com/tabrag/tabrag/internal/domain"
)

// ConfigRequest is the body of a backend switch request. The legacy fields
// take precedence in order: Supabase, local Postgres, SQLite. Kind selects
// any backend explicitly.
type ConfigRequest struct {
	SupabaseURL string `json:"supabaseUrl"`
	SupabaseKey string `json:"supabaseKey"`
	LocalDBURL  string `json:"localDbUrl"`
	SQLitePath  string `json:"sqlitePath"`

	Kind       domain.BackendKind `json:"kind"`
	URL        string             `json:"url"`
	Key        string             `json:"key"`
	DSN        string             `json:"dsn"`
	Path       string             `json:"path"`
	Addrs      []string           `json:"addrs"`
	Password   string             `json:"password"`
	Collection string             `json:"collection"`
	Namespace  string             `json:"namespace"`
}

// BackendConfig resolves the request to a backend config.
func (r ConfigRequest) BackendConfig() (domain.BackendConfig, error) {
	switch {
	case r.SupabaseURL != "" && r.SupabaseKey != "":
		return domain.BackendConfig{Kind: domain.BackendSupabase, URL: r.SupabaseURL, Key: r.SupabaseKey}, nil
	case r.LocalDBURL != "":
		return domain.BackendConfig{Kind: domain.BackendLocal, DSN: r.LocalDBURL}, nil
	case r.SQLitePath != "":
		return domain.BackendConfig{Kind: domain.BackendSQLite, Path: r.SQLitePath}, nil
	}

	kind := domain.BackendKind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	if kind == domain.BackendNone {
		return domain.BackendConfig{}, fmt.Errorf("no valid configuration provided: %w", domain.ErrInvalidRequest)
	}

	cfg := domain.BackendConfig{
		Kind:       kind,
		URL:        r.URL,
		Key:        r.Key,
		DSN:        r.DSN,
		Path:       r.Path,
		Addrs:      r.Addrs,
		Password:   r.Password,
		Collection: r.Collection,
		Namespace:  r.Namespace,
	}
	// local accepts the connection string under either name. A supabase url
	// is a project url unless it carries a postgres scheme.
	if kind == domain.BackendLocal && cfg.DSN == "" {
		cfg.DSN = r.URL
	}
	return cfg, nil
}
