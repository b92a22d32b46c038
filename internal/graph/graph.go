// Package graph derives receiver graph context from stored transactions.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// DefaultTTL is how long a computed context is served from cache.
const DefaultTTL = 30 * time.Second

// Service computes and caches receiver graph context.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration

	// generation is bumped by InvalidateAll so older keys are never read again.
	generation atomic.Int64
}

// NewService creates a new graph context service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// ReceiverContext returns the graph context of accountID. Lookup failures
// degrade to an empty context so scoring can proceed.
func (s *Service) ReceiverContext(ctx context.Context, accountID string) domain.GraphContext {
	gc, err := s.Lookup(ctx, accountID)
	if err != nil {
		slog.Warn("graph context unavailable, using empty context",
			"account_id", accountID,
			"error", err,
		)
		return domain.GraphContext{}
	}
	return *gc
}

// Lookup returns the graph context of accountID, reporting failures.
func (s *Service) Lookup(ctx context.Context, accountID string) (*domain.GraphContext, error) {
	if accountID == "" {
		return &domain.GraphContext{}, nil
	}

	key := s.key(accountID)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
			var gc domain.GraphContext
			if err := json.Unmarshal(data, &gc); err == nil {
				return &gc, nil
			}
		}
	}

	gc, err := s.repo.GetReceiverContext(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receiver context: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(gc); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Debug("failed to cache graph context", "account_id", accountID, "error", err)
			}
		}
	}

	return gc, nil
}

// Invalidate drops the cached context of accountID.
func (s *Service) Invalidate(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.key(accountID)); err != nil {
		slog.Debug("failed to invalidate graph context", "account_id", accountID, "error", err)
	}
}

// InvalidateAll makes every cached context unreachable.
func (s *Service) InvalidateAll() {
	s.generation.Add(1)
}

func (s *Service) key(accountID string) string {
	return "graph:" + strconv.FormatInt(s.generation.Load(), 10) + ":" + accountID
}
