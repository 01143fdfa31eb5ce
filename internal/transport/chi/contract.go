package chi

import (
	"context"

	"github.com/tabrag/tabrag/internal/domain"
	chatuc "github.com/tabrag/tabrag/internal/usecase/chat"
	healthuc "github.com/tabrag/tabrag/internal/usecase/health"
	ingestuc "github.com/tabrag/tabrag/internal/usecase/ingest"
	searchuc "github.com/tabrag/tabrag/internal/usecase/search"
)

// Ingester runs the ingest pipeline.
type Ingester interface {
	Ingest(ctx context.Context, apiKey string, tabs []domain.Tab) (ingestuc.Report, error)
}

// Asker answers questions over ingested tabs.
type Asker interface {
	Ask(ctx context.Context, q chatuc.Question) (string, error)
}

// Searcher runs semantic search.
type Searcher interface {
	Search(ctx context.Context, apiKey, q string) ([]searchuc.Result, error)
}

// BackendSwitcher replaces the active vector store.
type BackendSwitcher interface {
	Switch(ctx context.Context, cfg domain.BackendConfig) error
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
