// Package decision maps composite risk scores to operational actions and
// assembles the final assessment of a transaction.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
)

// EngineVersion identifies the decision pipeline in assessment metadata.
const EngineVersion = "heron-2.0"

// Thresholds are the ascending score cut-offs of the decision policy.
type Thresholds struct {
	Monitor  int
	Review   int
	HighRisk int
}

// DefaultThresholds returns the stock 30/60/80 policy.
func DefaultThresholds() Thresholds {
	return Thresholds{Monitor: 30, Review: 60, HighRisk: 80}
}

// Validate requires each threshold to be strictly below the next.
func (t Thresholds) Validate() error {
	if t.Monitor >= t.Review || t.Review >= t.HighRisk {
		return fmt.Errorf("%w: thresholds must be strictly ascending, got %d/%d/%d",
			domain.ErrInvalidInput, t.Monitor, t.Review, t.HighRisk)
	}
	return nil
}

// View returns the wire form of t.
func (t Thresholds) View() domain.ThresholdsView {
	return domain.ThresholdsView{Monitor: t.Monitor, Review: t.Review, HighRisk: t.HighRisk}
}

// Decide maps a capped score to an action.
// Scores below Monitor are also reported as Monitor.
func (t Thresholds) Decide(score int) domain.Action {
	switch {
	case score >= t.HighRisk:
		return domain.ActionEscalate
	case score >= t.Review:
		return domain.ActionReview
	default:
		return domain.ActionMonitor
	}
}

// Processor turns an engine result into a final assessment.
type Processor struct {
	thresholds Thresholds
}

// NewProcessor creates a processor with validated thresholds.
func NewProcessor(thresholds Thresholds) (*Processor, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Processor{thresholds: thresholds}, nil
}

// Thresholds returns the active thresholds.
func (p *Processor) Thresholds() Thresholds {
	return p.thresholds
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TransactionID string
	TraceID       string
	Features      *domain.FeatureRecord
	Result        *domain.ScoreResult
	StartTime     time.Time
	FeaturesMs    int64
	RulesMs       int64
}

// Process applies the policy and assembles the assessment.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Assessment {
	start := time.Now()

	reasons := input.Result.Triggered
	if reasons == nil {
		reasons = []string{}
	}

	assessment := &domain.Assessment{
		ID:            uuid.New().String(),
		TransactionID: input.TransactionID,
		RiskScore:     input.Result.TotalScore,
		Action:        p.thresholds.Decide(input.Result.TotalScore),
		Reasons:       reasons,
		Evidence:      domain.NewEvidence(input.Features),
		Contributions: input.Result.Contributions,
		Timestamp:     time.Now().UTC(),
		RuleVersion:   domain.RuleVersion,
	}

	totalMs := int64(0)
	if !input.StartTime.IsZero() {
		totalMs = time.Since(input.StartTime).Milliseconds()
	}

	assessment.Metadata = domain.AssessmentMetadata{
		TraceID:       input.TraceID,
		FeaturesMs:    input.FeaturesMs,
		RulesMs:       input.RulesMs,
		DecisionMs:    time.Since(start).Milliseconds(),
		TotalMs:       totalMs,
		RulesActive:   input.Result.RulesActive,
		RulesHit:      len(input.Result.Contributions),
		EngineVersion: EngineVersion,
	}

	return assessment
}

// ShouldAlert returns true if the assessment needs analyst attention.
func ShouldAlert(a *domain.Assessment) bool {
	return a.Action.IsAlert()
}
