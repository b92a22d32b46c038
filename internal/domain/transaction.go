package domain

import (
	"context"
	"time"
)

// Transaction is a single transfer between two accounts.
type Transaction struct {
	TransactionID   string    `json:"transaction_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	SenderAccount   string    `json:"sender_account"`
	ReceiverAccount string    `json:"receiver_account"`
	SenderIP        string    `json:"sender_ip,omitempty"`
	ReceiverIP      string    `json:"receiver_ip,omitempty"`
	DeviceID        string    `json:"device_id,omitempty"`
	Channel         string    `json:"channel,omitempty"`
	Location        string    `json:"location,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
}

// GraphContext aggregates relationship signals about a receiver account.
// Zero values mean "no history".
type GraphContext struct {
	IncomingTxCount       int     `json:"incoming_tx_count"`
	UniqueSenderCount     int     `json:"unique_sender_count"`
	TotalVolume           float64 `json:"total_volume"`
	AvgIncomingRisk       float64 `json:"avg_incoming_risk"`
	ClusteringAmountCount int     `json:"clustering_amount_count"`
}

// IncomeBucket is the inferred income band of an account holder.
type IncomeBucket string

const (
	IncomeLow    IncomeBucket = "low"
	IncomeMedium IncomeBucket = "medium"
	IncomeHigh   IncomeBucket = "high"
)

// BehaviorProfile is the behavioral feature vector of a receiver account.
type BehaviorProfile struct {
	Velocity             int          `json:"velocity"`
	FlowRatio            float64      `json:"flow_ratio"`
	MedianHoldingTime    float64      `json:"median_holding_time"` // minutes
	BurstRate            int          `json:"burst_rate"`
	MonthlyTurnover      float64      `json:"monthly_turnover"`
	InferredIncomeBucket IncomeBucket `json:"inferred_income_bucket"`
	IsStructuring        bool         `json:"is_structuring"`
}

// NeutralProfile is used for accounts with no known behavior.
func NeutralProfile() BehaviorProfile {
	return BehaviorProfile{
		Velocity:             1,
		FlowRatio:            0.5,
		MedianHoldingTime:    1440,
		BurstRate:            1,
		MonthlyTurnover:      50000,
		InferredIncomeBucket: IncomeMedium,
	}
}

// FeatureRecord is the canonical input of the scoring engine.
type FeatureRecord struct {
	Amount float64
	BehaviorProfile
	GraphContext
}

// ScoreRequest is a normalized scoring request: a transaction plus its
// receiver graph context, whichever wire shape it arrived in.
type ScoreRequest struct {
	Transaction Transaction
	Graph       GraphContext
}

// FeatureProvider produces the behavioral profile for a transaction.
// Implementations own any retry or timeout policy.
type FeatureProvider interface {
	Profile(ctx context.Context, tx *Transaction) (*BehaviorProfile, error)
}

// Verdict is an analyst's conclusion about a scored transaction.
type Verdict string

const (
	VerdictConfirmedFraud Verdict = "CONFIRMED_FRAUD"
	VerdictFalsePositive  Verdict = "FALSE_POSITIVE"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictConfirmedFraud || v == VerdictFalsePositive
}

// ScoredTransaction is a persisted transaction with its assessment.
type ScoredTransaction struct {
	Transaction
	RiskScore int       `json:"risk_score"`
	Action    Action    `json:"action"`
	Reasons   []string  `json:"reasons"`
	Verdict   Verdict   `json:"verdict,omitempty"`
	ScoredAt  time.Time `json:"scored_at"`
}

// AccountRole describes how an account appears in its history.
type AccountRole string

const (
	RoleSender   AccountRole = "sender"
	RoleReceiver AccountRole = "receiver"
	RoleBoth     AccountRole = "both"
	RoleUnknown  AccountRole = "unknown"
)

// AccountHistory summarizes recent activity of one account.
type AccountHistory struct {
	AccountID    string               `json:"account_id"`
	Transactions []*ScoredTransaction `json:"transactions"`
	Total        int                  `json:"total"`
	AvgRisk      float64              `json:"avg_risk"`
	HighRiskTxns int                  `json:"high_risk_txns"`
	Role         AccountRole          `json:"role"`
}

// HighRiskScore is the score above which a transaction counts as high risk in history views.
const HighRiskScore = 80

// VerificationStats counts analyst reviews.
type VerificationStats struct {
	Checked        int `json:"checked"`
	FalsePositives int `json:"false_positives"`
}
