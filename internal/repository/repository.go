// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/pressly/goose/v3"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if r.driver == "postgres" {
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, r.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	_, err = provider.Up(ctx)
	return err
}

const scoredColumns = `
	id, amount, currency, timestamp, sender_account, receiver_account,
	sender_ip, receiver_ip, device_id, channel, location, transaction_type,
	risk_score, action, reasons, verdict, scored_at`

// SaveTransaction stores a scored transaction. Re-scoring an existing id
// replaces the score but keeps any analyst verdict.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.ScoredTransaction) error {
	if tx.TransactionID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	reasons, err := json.Marshal(tx.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}

	timestamp := tx.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	scoredAt := tx.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scored_transactions (` + scoredColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			risk_score = excluded.risk_score,
			action = excluded.action,
			reasons = excluded.reasons,
			scored_at = excluded.scored_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.TransactionID, tx.Amount, tx.Currency, timestamp.UTC(),
		tx.SenderAccount, tx.ReceiverAccount,
		tx.SenderIP, tx.ReceiverIP, tx.DeviceID, tx.Channel, tx.Location, tx.TransactionType,
		tx.RiskScore, string(tx.Action), string(reasons), string(tx.Verdict), scoredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a scored transaction by id.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.ScoredTransaction, error) {
	query := `SELECT ` + scoredColumns + ` FROM scored_transactions WHERE id = ?`

	tx, err := scanScored(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListRecentTransactions returns the newest transactions scoring at least minRisk.
func (r *SQLRepository) ListRecentTransactions(ctx context.Context, limit int, minRisk float64) ([]*domain.ScoredTransaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT ` + scoredColumns + `
		FROM scored_transactions
		WHERE risk_score >= CAST(? AS DOUBLE PRECISION)
		ORDER BY timestamp DESC, scored_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), minRisk, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectScored(rows)
}

// GetReceiverContext aggregates the incoming transfers of accountID.
func (r *SQLRepository) GetReceiverContext(ctx context.Context, accountID string) (*domain.GraphContext, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT sender_account),
			COALESCE(SUM(amount), 0),
			COALESCE(AVG(risk_score), 0),
			COALESCE(SUM(CASE WHEN amount IN (` + clusteringSQL() + `) THEN 1 ELSE 0 END), 0)
		FROM scored_transactions
		WHERE receiver_account = ?
	`

	var gc domain.GraphContext
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID).Scan(
		&gc.IncomingTxCount,
		&gc.UniqueSenderCount,
		&gc.TotalVolume,
		&gc.AvgIncomingRisk,
		&gc.ClusteringAmountCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate receiver context: %w", err)
	}
	return &gc, nil
}

// GetAccountHistory returns the last limit transactions where accountID is
// either party, with risk aggregates over that window.
func (r *SQLRepository) GetAccountHistory(ctx context.Context, accountID string, limit int) (*domain.AccountHistory, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT ` + scoredColumns + `
		FROM scored_transactions
		WHERE sender_account = ? OR receiver_account = ?
		ORDER BY timestamp DESC, scored_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs, err := collectScored(rows)
	if err != nil {
		return nil, err
	}

	history := &domain.AccountHistory{
		AccountID:    accountID,
		Transactions: txs,
		Total:        len(txs),
		Role:         domain.RoleUnknown,
	}

	var sent, received bool
	totalRisk := 0
	for _, tx := range txs {
		totalRisk += tx.RiskScore
		if tx.RiskScore > domain.HighRiskScore {
			history.HighRiskTxns++
		}
		if tx.SenderAccount == accountID {
			sent = true
		}
		if tx.ReceiverAccount == accountID {
			received = true
		}
	}
	if len(txs) > 0 {
		history.AvgRisk = float64(totalRisk) / float64(len(txs))
	}

	switch {
	case sent && received:
		history.Role = domain.RoleBoth
	case sent:
		history.Role = domain.RoleSender
	case received:
		history.Role = domain.RoleReceiver
	}

	return history, nil
}

// UpdateVerification records an analyst verdict and bumps the counters.
func (r *SQLRepository) UpdateVerification(ctx context.Context, txID string, verdict domain.Verdict) error {
	if !verdict.Valid() {
		return fmt.Errorf("%w: unknown verdict %q", ErrInvalidInput, verdict)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE scored_transactions SET verdict = ? WHERE id = ?`), string(verdict), txID)
	if err != nil {
		return fmt.Errorf("failed to update verdict: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}

	falsePositive := 0
	if verdict == domain.VerdictFalsePositive {
		falsePositive = 1
	}
	_, err = tx.ExecContext(ctx, r.rebind(`
		UPDATE verification_stats
		SET checked = checked + 1, false_positives = false_positives + ?
		WHERE id = 1
	`), falsePositive)
	if err != nil {
		return fmt.Errorf("failed to update verification stats: %w", err)
	}

	return tx.Commit()
}

// GetVerificationStats returns the analyst review counters.
func (r *SQLRepository) GetVerificationStats(ctx context.Context) (*domain.VerificationStats, error) {
	var stats domain.VerificationStats
	err := r.db.QueryRowContext(ctx, `SELECT checked, false_positives FROM verification_stats WHERE id = 1`).
		Scan(&stats.Checked, &stats.FalsePositives)
	if errors.Is(err, sql.ErrNoRows) {
		return &stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read verification stats: %w", err)
	}
	return &stats, nil
}

// Reset wipes scored transactions and verification stats.
func (r *SQLRepository) Reset(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scored_transactions`); err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE verification_stats SET checked = 0, false_positives = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear verification stats: %w", err)
	}

	return tx.Commit()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScored(row rowScanner) (*domain.ScoredTransaction, error) {
	var tx domain.ScoredTransaction
	var action, reasons, verdict string

	if err := row.Scan(
		&tx.TransactionID, &tx.Amount, &tx.Currency, &tx.Timestamp,
		&tx.SenderAccount, &tx.ReceiverAccount,
		&tx.SenderIP, &tx.ReceiverIP, &tx.DeviceID, &tx.Channel, &tx.Location, &tx.TransactionType,
		&tx.RiskScore, &action, &reasons, &verdict, &tx.ScoredAt,
	); err != nil {
		return nil, err
	}

	tx.Action = domain.Action(action)
	tx.Verdict = domain.Verdict(verdict)
	tx.Reasons = []string{}
	if reasons != "" {
		if err := json.Unmarshal([]byte(reasons), &tx.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons of %s: %w", tx.TransactionID, err)
		}
	}
	return &tx, nil
}

func collectScored(rows *sql.Rows) ([]*domain.ScoredTransaction, error) {
	txs := []*domain.ScoredTransaction{}
	for rows.Next() {
		tx, err := scanScored(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func clusteringSQL() string {
	parts := make([]string, 0, len(domain.ClusteringAmounts))
	for _, a := range domain.ClusteringAmounts {
		parts = append(parts, strconv.FormatFloat(a, 'f', 1, 64))
	}
	return strings.Join(parts, ", ")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
