package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/chunker"
	"github.com/tabrag/tabrag/internal/domain"
	reindexuc "github.com/tabrag/tabrag/internal/usecase/reindex"
	"github.com/tabrag/tabrag/internal/vectorstore/fileindex"
)

func newReindexCommand() *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the file index from the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd.Context(), cmd, apiKey)
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "OpenAI API key (default $OPENAI_API_KEY)")
	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, apiKey string) error {
	a, err := newApp()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	// config.Load has already applied .env, so the variable may come from there.
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if a.cfg.Backend.Kind == domain.BackendNone {
		return fmt.Errorf("backend.kind is not configured: %w", domain.ErrNoBackend)
	}
	if err := a.waitForCache(ctx); err != nil {
		return fmt.Errorf("embedding cache not ready: %w", err)
	}

	store, err := a.backends.Open(ctx, a.cfg.Backend)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer func() { _ = store.Close() }()

	// A fresh index: the previous file is replaced on save.
	index := fileindex.New(a.cfg.Index.Path, a.ranker, a.logger)

	svc := reindexuc.New(chunker.NewFixed(a.cfg.Chunking.MaxChars), a.embedders, a.logger).
		WithKeyPrefix(a.cfg.OpenAI.KeyPrefix)
	report, err := svc.Run(ctx, apiKey, store, index)
	if err != nil {
		return err
	}

	a.logger.Info("Index rebuilt", zap.String("path", index.Path()), zap.Int("records", index.Len()))
	fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d documents into %d chunks (%d skipped, %d failed).\n",
		report.Documents(), report.Chunks(), report.Skipped(), report.Failed())
	for _, res := range report.Results {
		if res.Err() != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  failed %s: %v\n", res.URL(), res.Err())
		}
	}
	return nil
}
