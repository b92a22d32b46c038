package decision

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestDecide(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		score int
		want  domain.Action
	}{
		{0, domain.ActionMonitor},
		{29, domain.ActionMonitor},
		{30, domain.ActionMonitor},
		{59, domain.ActionMonitor},
		{60, domain.ActionReview},
		{79, domain.ActionReview},
		{80, domain.ActionEscalate},
		{100, domain.ActionEscalate},
	}

	for _, tt := range tests {
		if got := th.Decide(tt.score); got != tt.want {
			t.Errorf("Decide(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	valid := []Thresholds{
		DefaultThresholds(),
		{Monitor: 0, Review: 1, HighRisk: 2},
	}
	for _, th := range valid {
		if err := th.Validate(); err != nil {
			t.Errorf("expected %+v to be valid: %v", th, err)
		}
	}

	invalid := []Thresholds{
		{Monitor: 30, Review: 30, HighRisk: 80},
		{Monitor: 30, Review: 60, HighRisk: 60},
		{Monitor: 90, Review: 60, HighRisk: 80},
	}
	for _, th := range invalid {
		if _, err := NewProcessor(th); err == nil {
			t.Errorf("expected %+v to be rejected", th)
		}
	}
}

func TestProcessor(t *testing.T) {
	proc, err := NewProcessor(DefaultThresholds())
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	ctx := context.Background()

	features := &domain.FeatureRecord{
		Amount: 500,
		BehaviorProfile: domain.BehaviorProfile{
			MedianHoldingTime:    12,
			FlowRatio:            0.97,
			InferredIncomeBucket: domain.IncomeLow,
			MonthlyTurnover:      2500000,
		},
		GraphContext: domain.GraphContext{
			IncomingTxCount:       7,
			UniqueSenderCount:     4,
			ClusteringAmountCount: 3,
			TotalVolume:           640000,
			AvgIncomingRisk:       42,
		},
	}

	t.Run("Escalate", func(t *testing.T) {
		input := &DecisionInput{
			TransactionID: "TX-1",
			TraceID:       "trace-001",
			Features:      features,
			Result: &domain.ScoreResult{
				TotalScore:  85,
				Triggered:   []string{"M001: Pass-Through Behavior (<15m)"},
				RulesActive: 12,
				Contributions: []domain.RuleContribution{
					{RuleID: "M001", BaseScore: 25, Multiplier: 1, Contribution: 25},
				},
			},
			StartTime: time.Now(),
		}

		a := proc.Process(ctx, input)

		if a.ID == "" {
			t.Error("expected assessment id")
		}
		if a.Action != domain.ActionEscalate {
			t.Errorf("expected escalate, got %s", a.Action)
		}
		if !ShouldAlert(a) {
			t.Error("escalation should alert")
		}
		if a.RuleVersion != "2.0.0" {
			t.Errorf("expected rule version 2.0.0, got %s", a.RuleVersion)
		}
		if a.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", a.Metadata.TraceID)
		}
		if a.Metadata.RulesActive != 12 || a.Metadata.RulesHit != 1 {
			t.Errorf("unexpected metadata %+v", a.Metadata)
		}

		ev := a.Evidence
		if ev.HoldingTimeMin != 12 || ev.FlowRatio != 0.97 || ev.InferredIncome != domain.IncomeLow || ev.Turnover != 2500000 {
			t.Errorf("unexpected behavioral evidence %+v", ev)
		}
		g := ev.GraphContext
		if g.IncomingTxCount != 7 || g.UniqueSenderCount != 4 || g.ClusteringAmountCount != 3 || g.TotalVolume != 640000 {
			t.Errorf("unexpected graph evidence %+v", g)
		}
	})

	t.Run("NilReasonsBecomeEmpty", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			Features: features,
			Result:   &domain.ScoreResult{TotalScore: 10},
		})
		if a.Reasons == nil {
			t.Error("reasons must be non-nil")
		}
		if a.Action != domain.ActionMonitor {
			t.Errorf("expected Monitor, got %s", a.Action)
		}
		if ShouldAlert(a) {
			t.Error("monitor should not alert")
		}
	})
}
