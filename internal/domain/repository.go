// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for scored-transaction persistence.
type Repository interface {
	// Scored transaction operations
	SaveTransaction(ctx context.Context, tx *ScoredTransaction) error
	GetTransaction(ctx context.Context, txID string) (*ScoredTransaction, error)
	ListRecentTransactions(ctx context.Context, limit int, minRisk float64) ([]*ScoredTransaction, error)

	// Graph aggregates over incoming transfers of a receiver account.
	GetReceiverContext(ctx context.Context, accountID string) (*GraphContext, error)

	// Account view: last N transactions where the account is either party.
	GetAccountHistory(ctx context.Context, accountID string, limit int) (*AccountHistory, error)

	// Analyst feedback
	UpdateVerification(ctx context.Context, txID string, verdict Verdict) error
	GetVerificationStats(ctx context.Context) (*VerificationStats, error)

	// Reset wipes scored transactions and verification stats.
	Reset(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath        string
	SQLiteBusyTimeout time.Duration

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
