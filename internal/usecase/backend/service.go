// Package backend owns the active vector store and switches it at runtime.
package backend

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tabrag/tabrag/internal/domain"
)

// Service holds the active vector store. Safe for concurrent use.
type Service struct {
	opener Opener
	logger *zap.Logger

	mu    sync.RWMutex
	store domain.VectorStore
	kind  domain.BackendKind
}

// New creates a Service with no active backend.
func New(opener Opener, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{opener: opener, logger: logger}
}

// Switch opens the backend described by cfg and makes it active. The previous
// store stays active until the new one is initialized, then it is closed.
func (s *Service) Switch(ctx context.Context, cfg domain.BackendConfig) error {
	if cfg.Kind == domain.BackendNone {
		return fmt.Errorf("no valid configuration provided: %w", domain.ErrInvalidRequest)
	}

	store, err := s.opener.Open(ctx, cfg)
	if err != nil {
		s.logger.Error("Backend switch failed", zap.String("kind", string(cfg.Kind)), zap.Error(err))
		return fmt.Errorf("switch to %s: %w", cfg.Kind, err)
	}

	s.mu.Lock()
	prev, prevKind := s.store, s.kind
	s.store, s.kind = store, cfg.Kind
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Warn("Failed to close previous backend", zap.String("kind", string(prevKind)), zap.Error(err))
		}
	}
	s.logger.Info("Backend switched", zap.String("from", string(prevKind)), zap.String("to", string(cfg.Kind)))
	return nil
}

// Current returns the active store and its kind, or ErrNoBackend.
func (s *Service) Current() (domain.VectorStore, domain.BackendKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, domain.BackendNone, domain.ErrNoBackend
	}
	return s.store, s.kind, nil
}

// Ping checks the active store. Stores without a Ping method report healthy.
func (s *Service) Ping(ctx context.Context) error {
	store, _, err := s.Current()
	if err != nil {
		return err
	}
	if p, ok := store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the active store.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store, s.kind = nil, domain.BackendNone
	return err
}
