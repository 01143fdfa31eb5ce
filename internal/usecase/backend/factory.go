package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	dbredis "github.com/tabrag/tabrag/internal/db/redis"
	"github.com/tabrag/tabrag/internal/domain"
	"github.com/tabrag/tabrag/internal/domain/ranking"
	mclient "github.com/tabrag/tabrag/internal/transport/moorcheh"
	sbclient "github.com/tabrag/tabrag/internal/transport/supabase"
	"github.com/tabrag/tabrag/internal/vectorstore/moorcheh"
	"github.com/tabrag/tabrag/internal/vectorstore/postgres"
	"github.com/tabrag/tabrag/internal/vectorstore/qdrant"
	vsredis "github.com/tabrag/tabrag/internal/vectorstore/redis"
	"github.com/tabrag/tabrag/internal/vectorstore/sqlite"
	"github.com/tabrag/tabrag/internal/vectorstore/supabase"
)

// Factory opens vector stores of every supported kind.
type Factory struct {
	ranker          *ranking.Ranker
	dims            int
	moorchehURL     string
	moorchehTimeout time.Duration
	restTimeout     time.Duration
	logger          *zap.Logger
}

// NewFactory creates a factory. Stores that rank locally share ranker.
func NewFactory(ranker *ranking.Ranker, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ranker == nil {
		ranker = ranking.New(logger)
	}
	return &Factory{
		ranker:          ranker,
		moorchehURL:     mclient.DefaultBaseURL,
		moorchehTimeout: 30 * time.Second,
		restTimeout:     30 * time.Second,
		logger:          logger,
	}
}

// WithDimensions sets the vector size used when a config leaves it unset.
func (f *Factory) WithDimensions(dims int) *Factory {
	f.dims = dims
	return f
}

// WithMoorcheh overrides the Moorcheh endpoint and request timeout.
func (f *Factory) WithMoorcheh(baseURL string, timeout time.Duration) *Factory {
	if baseURL != "" {
		f.moorchehURL = baseURL
	}
	if timeout > 0 {
		f.moorchehTimeout = timeout
	}
	return f
}

// Open builds the store for cfg and runs its Init. A store that fails to
// initialize is closed before the error is returned.
func (f *Factory) Open(ctx context.Context, cfg domain.BackendConfig) (domain.VectorStore, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = f.dims
	}

	store, err := f.build(cfg)
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		if cerr := store.Close(); cerr != nil {
			f.logger.Warn("Failed to close store after init error", zap.Error(cerr))
		}
		return nil, fmt.Errorf("init %s backend: %w", cfg.Kind, err)
	}
	return store, nil
}

func (f *Factory) build(cfg domain.BackendConfig) (domain.VectorStore, error) {
	switch cfg.Kind {
	case domain.BackendSupabase:
		if dsn := supabaseDSN(cfg); dsn != "" {
			return postgres.New(postgres.Config{DSN: dsn, Password: cfg.Key, Mode: postgres.ModeHosted}, f.ranker, f.logger), nil
		}
		if cfg.URL == "" || cfg.Key == "" {
			return nil, fmt.Errorf("supabase url and key are required: %w", domain.ErrInvalidRequest)
		}
		client, err := sbclient.New(cfg.URL, cfg.Key, f.restTimeout)
		if err != nil {
			return nil, fmt.Errorf("supabase client: %w", err)
		}
		return supabase.New(client, f.ranker, f.logger), nil

	case domain.BackendLocal:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("local database url is required: %w", domain.ErrInvalidRequest)
		}
		return postgres.New(postgres.Config{DSN: cfg.DSN, Password: cfg.Password, Mode: postgres.ModeLocal}, f.ranker, f.logger), nil

	case domain.BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required: %w", domain.ErrInvalidRequest)
		}
		return sqlite.New(cfg.Path, f.ranker, f.logger), nil

	case domain.BackendRedis:
		if len(cfg.Addrs) == 0 {
			return nil, fmt.Errorf("redis addrs are required: %w", domain.ErrInvalidRequest)
		}
		client, err := dbredis.NewStore(dbredis.Config{Addrs: cfg.Addrs, Password: cfg.Password})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return vsredis.New(client, f.ranker, f.logger).WithDimensions(cfg.Dimensions), nil

	case domain.BackendQdrant:
		if cfg.URL == "" {
			return nil, fmt.Errorf("qdrant url is required: %w", domain.ErrInvalidRequest)
		}
		return qdrant.New(qdrant.Config{
			Addr:       grpcAddr(cfg.URL),
			APIKey:     cfg.Key,
			Collection: cfg.Collection,
			Dimensions: cfg.Dimensions,
		}, f.logger)

	case domain.BackendMoorcheh:
		client, err := mclient.New(f.baseURL(cfg), cfg.Key, f.moorchehTimeout)
		if err != nil {
			return nil, fmt.Errorf("moorcheh client: %w", err)
		}
		return moorcheh.New(client, cfg.Namespace, cfg.Dimensions, f.logger), nil

	default:
		return nil, fmt.Errorf("backend kind %q: %w", cfg.Kind, domain.ErrUnknownBackend)
	}
}

func (f *Factory) baseURL(cfg domain.BackendConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return f.moorchehURL
}

// supabaseDSN returns the Postgres connection string for a supabase config,
// or "" when the project should be reached through its REST API.
func supabaseDSN(cfg domain.BackendConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	if isPostgresURL(cfg.URL) {
		return cfg.URL
	}
	return ""
}

func isPostgresURL(raw string) bool {
	return strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://")
}

// grpcAddr accepts either host:port or a URL and returns host:port.
func grpcAddr(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
