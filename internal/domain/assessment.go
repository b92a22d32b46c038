package domain

import (
	"time"
)

// Action is the operational outcome of a scored transaction.
type Action string

// Actions in ascending severity. There is no distinct "clear" action.
const (
	ActionMonitor  Action = "Monitor"
	ActionReview   Action = "Review"
	ActionEscalate Action = "Escalate (EDD)"
)

// IsAlert reports whether the action requires an analyst.
func (a Action) IsAlert() bool {
	return a == ActionReview || a == ActionEscalate
}

// ScoreResult is the raw output of the scoring engine.
type ScoreResult struct {
	TotalScore    int
	Triggered     []string
	Contributions []RuleContribution
	RulesActive   int
}

// Assessment is the complete, request-scoped result for one transaction.
type Assessment struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transaction_id,omitempty"`
	RiskScore     int                `json:"risk_score"`
	Action        Action             `json:"action"`
	Reasons       []string           `json:"reasons"`
	Evidence      Evidence           `json:"evidence"`
	Contributions []RuleContribution `json:"contributions,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	RuleVersion   string             `json:"rule_version"`
	Metadata      AssessmentMetadata `json:"metadata"`
}

// Evidence is a structured echo of the inputs that drove a decision.
type Evidence struct {
	HoldingTimeMin float64       `json:"holding_time_min"`
	FlowRatio      float64       `json:"flow_ratio"`
	InferredIncome IncomeBucket  `json:"inferred_income"`
	Turnover       float64       `json:"turnover"`
	GraphContext   EvidenceGraph `json:"graph_context"`
}

// EvidenceGraph is the graph part of Evidence.
type EvidenceGraph struct {
	IncomingTxCount       int     `json:"incoming_tx_count"`
	UniqueSenderCount     int     `json:"unique_sender_count"`
	ClusteringAmountCount int     `json:"clustering_amount_count"`
	TotalVolume           float64 `json:"total_volume"`
}

// NewEvidence builds the evidence echo from a feature record.
func NewEvidence(rec *FeatureRecord) Evidence {
	return Evidence{
		HoldingTimeMin: rec.MedianHoldingTime,
		FlowRatio:      rec.FlowRatio,
		InferredIncome: rec.InferredIncomeBucket,
		Turnover:       rec.MonthlyTurnover,
		GraphContext: EvidenceGraph{
			IncomingTxCount:       rec.IncomingTxCount,
			UniqueSenderCount:     rec.UniqueSenderCount,
			ClusteringAmountCount: rec.ClusteringAmountCount,
			TotalVolume:           rec.TotalVolume,
		},
	}
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	FeaturesMs    int64  `json:"featuresMs"`
	RulesMs       int64  `json:"rulesMs"`
	DecisionMs    int64  `json:"decisionMs"`
	TotalMs       int64  `json:"totalMs"`
	RulesActive   int    `json:"rulesActive"`
	RulesHit      int    `json:"rulesHit"`
	EngineVersion string `json:"engineVersion"`
}
