package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
)

func setupService(t *testing.T) (*Service, *repository.SQLRepository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "graph-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, cache.NewLRUCache(100), time.Minute), repo
}

func save(t *testing.T, repo domain.Repository, id, sender, receiver string, amount float64, risk int) {
	t.Helper()
	tx := &domain.ScoredTransaction{
		Transaction: domain.Transaction{
			TransactionID:   id,
			Amount:          amount,
			Timestamp:       time.Now().UTC(),
			SenderAccount:   sender,
			ReceiverAccount: receiver,
		},
		RiskScore: risk,
		Action:    domain.ActionMonitor,
		Reasons:   []string{},
	}
	if err := repo.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
}

func TestGraphService(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()

	t.Run("EmptyHistory", func(t *testing.T) {
		gc := svc.ReceiverContext(ctx, "NEW-1")
		if gc != (domain.GraphContext{}) {
			t.Errorf("expected empty context, got %+v", gc)
		}
	})

	t.Run("Aggregates", func(t *testing.T) {
		save(t, repo, "t1", "S-1", "GAME-1", 100, 50)
		save(t, repo, "t2", "S-2", "GAME-1", 200, 70)
		save(t, repo, "t3", "S-3", "GAME-1", 300, 90)

		gc := svc.ReceiverContext(ctx, "GAME-1")
		if gc.IncomingTxCount != 3 || gc.UniqueSenderCount != 3 || gc.ClusteringAmountCount != 3 {
			t.Errorf("unexpected counts %+v", gc)
		}
		if gc.TotalVolume != 600 || gc.AvgIncomingRisk != 70 {
			t.Errorf("unexpected volume/risk %+v", gc)
		}
	})

	t.Run("CachedUntilInvalidated", func(t *testing.T) {
		save(t, repo, "t4", "S-4", "GAME-1", 100, 10)

		gc := svc.ReceiverContext(ctx, "GAME-1")
		if gc.IncomingTxCount != 3 {
			t.Errorf("expected cached count 3, got %d", gc.IncomingTxCount)
		}

		svc.Invalidate(ctx, "GAME-1")
		gc = svc.ReceiverContext(ctx, "GAME-1")
		if gc.IncomingTxCount != 4 {
			t.Errorf("expected fresh count 4, got %d", gc.IncomingTxCount)
		}
	})

	t.Run("InvalidateAll", func(t *testing.T) {
		if err := repo.Reset(ctx); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		svc.InvalidateAll()

		gc := svc.ReceiverContext(ctx, "GAME-1")
		if gc.IncomingTxCount != 0 {
			t.Errorf("expected empty context after reset, got %+v", gc)
		}
	})
}

type brokenRepo struct {
	domain.Repository
}

func (brokenRepo) GetReceiverContext(context.Context, string) (*domain.GraphContext, error) {
	return nil, errors.New("database is locked")
}

func TestGraphServiceDegrades(t *testing.T) {
	svc := NewService(brokenRepo{}, nil, 0)
	ctx := context.Background()

	if _, err := svc.Lookup(ctx, "ACC-1"); err == nil {
		t.Error("expected lookup error")
	}

	gc := svc.ReceiverContext(ctx, "ACC-1")
	if gc != (domain.GraphContext{}) {
		t.Errorf("expected empty context on failure, got %+v", gc)
	}
}
