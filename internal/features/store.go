package features

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// BurstWindow is the rolling window of the burst-rate counter.
const BurstWindow = 20 * time.Minute

// DefaultProfileTTL is how long a stored profile stays valid.
const DefaultProfileTTL = 24 * time.Hour

// StoreProvider reads behavioral profiles from the cache and tracks
// per-receiver burst rate with a windowed counter. Profile only reads;
// RecordTransfer advances the counter and is called once per ingested
// transfer.
type StoreProvider struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewStoreProvider creates a provider backed by cache.
func NewStoreProvider(cache domain.Cache, ttl time.Duration) *StoreProvider {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &StoreProvider{cache: cache, ttl: ttl}
}

// Profile implements domain.FeatureProvider.
// Accounts without a stored profile, and transactions without a receiver,
// get the neutral profile.
func (p *StoreProvider) Profile(ctx context.Context, tx *domain.Transaction) (*domain.BehaviorProfile, error) {
	profile := domain.NeutralProfile()
	if tx.ReceiverAccount == "" {
		profile.IsStructuring = IsStructuringAmount(tx.Amount)
		return &profile, nil
	}

	stored, err := p.cache.GetProfile(ctx, tx.ReceiverAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if stored != nil {
		profile = *stored
	}

	burst, err := p.cache.Counter(ctx, burstKey(tx.ReceiverAccount))
	if err != nil {
		return nil, fmt.Errorf("failed to read burst counter: %w", err)
	}
	profile.BurstRate = max(profile.BurstRate, int(burst))
	if profile.BurstRate > 10 {
		profile.Velocity = max(profile.Velocity, 8)
	}
	profile.IsStructuring = profile.IsStructuring || IsStructuringAmount(tx.Amount)

	return &profile, nil
}

// RecordTransfer counts tx in its receiver's burst window.
func (p *StoreProvider) RecordTransfer(ctx context.Context, tx *domain.Transaction) error {
	if tx.ReceiverAccount == "" {
		return nil
	}
	if _, err := p.cache.IncrementCounter(ctx, burstKey(tx.ReceiverAccount), BurstWindow); err != nil {
		return fmt.Errorf("failed to update burst counter: %w", err)
	}
	return nil
}

func burstKey(accountID string) string {
	return "burst:" + accountID
}

// StoreProfile writes the profile of an account.
func (p *StoreProvider) StoreProfile(ctx context.Context, accountID string, profile *domain.BehaviorProfile) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	if profile.FlowRatio < 0 || profile.FlowRatio > 1 || profile.MedianHoldingTime < 0 {
		return fmt.Errorf("%w: profile out of range", domain.ErrInvalidInput)
	}
	switch profile.InferredIncomeBucket {
	case domain.IncomeLow, domain.IncomeMedium, domain.IncomeHigh:
	default:
		return fmt.Errorf("%w: unknown income bucket %q", domain.ErrInvalidInput, profile.InferredIncomeBucket)
	}
	if err := p.cache.SetProfile(ctx, accountID, profile, p.ttl); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}
