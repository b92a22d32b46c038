// Package rules provides the rule registry and the compound scoring engine.
package rules

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/heron/internal/domain"
)

// MaxScore is the hard ceiling of a composite score.
const MaxScore = 100

// Engine evaluates the active rule set against a feature record.
// Trigger predicates are CEL programs compiled once in NewEngine;
// contributions and evidence are computed by each detector.
type Engine struct {
	registry  *Registry
	env       *cel.Env
	detectors []*detector
}

// detector is one compiled rule predicate with its scoring function.
type detector struct {
	ruleID     string
	expression string
	program    cel.Program

	// gated detectors run only when their rule id is active.
	gated bool

	score func(rec *domain.FeatureRecord, base int) (contribution int, multiplier float64, evidence string)
}

// NewEngine creates a scoring engine bound to registry.
func NewEngine(registry *Registry) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", domain.ErrInvalidInput)
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("velocity", cel.IntType),
		cel.Variable("flow_ratio", cel.DoubleType),
		cel.Variable("median_holding_time", cel.DoubleType),
		cel.Variable("burst_rate", cel.IntType),
		cel.Variable("monthly_turnover", cel.DoubleType),
		cel.Variable("inferred_income_bucket", cel.StringType),
		cel.Variable("is_structuring", cel.BoolType),
		cel.Variable("incoming_tx_count", cel.IntType),
		cel.Variable("unique_sender_count", cel.IntType),
		cel.Variable("total_volume", cel.DoubleType),
		cel.Variable("avg_incoming_risk", cel.DoubleType),
		cel.Variable("clustering_amount_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		registry: registry,
		env:      env,
	}

	// Evaluation order: gambling group, mule group, then volume.
	for _, d := range builtinDetectors() {
		if err := e.compile(d); err != nil {
			return nil, err
		}
		e.detectors = append(e.detectors, d)
	}

	return e, nil
}

// Evaluate scores rec against a single snapshot of the active rules.
func (e *Engine) Evaluate(rec *domain.FeatureRecord) *domain.ScoreResult {
	return e.EvaluateWith(e.registry.ActiveRuleScores(), rec)
}

// EvaluateWith scores rec against an explicit active-rule snapshot.
func (e *Engine) EvaluateWith(active map[string]int, rec *domain.FeatureRecord) *domain.ScoreResult {
	result := &domain.ScoreResult{
		Triggered:   []string{},
		RulesActive: len(active),
	}
	activation := activationFor(rec)

	total := 0
	for _, d := range e.detectors {
		base, ok := active[d.ruleID]
		if d.gated && !ok {
			continue
		}

		out, _, err := d.program.Eval(activation)
		if err != nil {
			slog.Warn("rule predicate failed", "rule_id", d.ruleID, "error", err)
			continue
		}
		if fired, ok := out.(types.Bool); !ok || !bool(fired) {
			continue
		}

		contribution, multiplier, evidence := d.score(rec, base)
		total += contribution
		result.Triggered = append(result.Triggered, evidence)
		result.Contributions = append(result.Contributions, domain.RuleContribution{
			RuleID:       d.ruleID,
			BaseScore:    base,
			Multiplier:   multiplier,
			Contribution: contribution,
		})
	}

	result.TotalScore = clamp(total)
	return result
}

// Expressions returns the CEL predicate of every detector, keyed by rule id.
func (e *Engine) Expressions() map[string]string {
	out := make(map[string]string, len(e.detectors))
	for _, d := range e.detectors {
		out[d.ruleID] = d.expression
	}
	return out
}

// Registry returns the registry the engine reads from.
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) compile(d *detector) error {
	ast, issues := e.env.Compile(d.expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile rule %s: %w", d.ruleID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule %s: expression must return bool, got %s", d.ruleID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to create program for rule %s: %w", d.ruleID, err)
	}

	d.program = program
	return nil
}

func builtinDetectors() []*detector {
	return []*detector{
		{
			ruleID:     domain.RuleManyToOne,
			expression: "unique_sender_count >= 3",
			gated:      true,
			score: func(rec *domain.FeatureRecord, base int) (int, float64, string) {
				m := FanInMultiplier(rec.UniqueSenderCount)
				return floorScore(base, m), m,
					fmt.Sprintf("G002: Many-to-One (%d unique senders, ×%.1f)", rec.UniqueSenderCount, m)
			},
		},
		{
			ruleID:     domain.RuleAmountClustering,
			expression: "clustering_amount_count >= 3 || amount in " + clusteringList(),
			gated:      true,
			score: func(rec *domain.FeatureRecord, base int) (int, float64, string) {
				m := ClusteringMultiplier(rec.ClusteringAmountCount)
				if rec.ClusteringAmountCount >= 3 {
					return floorScore(base, m), m,
						fmt.Sprintf("G004: Amount Clustering (%d patterns detected, ×%.1f)", rec.ClusteringAmountCount, m)
				}
				return floorScore(base, m), m, "G004: Amount Clustering (current tx)"
			},
		},
		{
			ruleID:     domain.RuleInOutVelocity,
			expression: "velocity > 8 && flow_ratio > 0.9",
			gated:      true,
			score:      flat("G001: High In-Out Velocity"),
		},
		{
			ruleID:     domain.RulePassThrough,
			expression: "median_holding_time < 15.0 && flow_ratio > 0.9",
			gated:      true,
			score:      flat("M001: Pass-Through Behavior (<15m)"),
		},
		{
			ruleID:     domain.RuleVelocityBurst,
			expression: "burst_rate > 20",
			gated:      true,
			score: func(rec *domain.FeatureRecord, base int) (int, float64, string) {
				return base, 1.0, fmt.Sprintf("M003: High Velocity Burst (%d tx)", rec.BurstRate)
			},
		},
		{
			ruleID:     domain.RuleProfileMismatch,
			expression: `inferred_income_bucket == "low" && monthly_turnover > 1000000.0`,
			gated:      true,
			score:      flat("M004: Profile Mismatch (Low Income, High Turnover)"),
		},
		{
			ruleID:     domain.RulePromptPay,
			expression: "velocity > 5",
			gated:      true,
			score:      flat("M005: PromptPay Relay Dominance"),
		},
		{
			ruleID:     domain.RuleNetworkRisk,
			expression: "avg_incoming_risk > 50.0 && incoming_tx_count >= 3",
			gated:      true,
			score: func(rec *domain.FeatureRecord, base int) (int, float64, string) {
				m := InheritanceMultiplier(rec.AvgIncomingRisk)
				return floorScore(base, m), m,
					fmt.Sprintf("M006: Network Risk Inheritance (avg %.0f from %d txns)", rec.AvgIncomingRisk, rec.IncomingTxCount)
			},
		},
		{
			ruleID:     domain.RuleVolume,
			expression: "total_volume > 500000.0",
			gated:      false,
			score: func(rec *domain.FeatureRecord, _ int) (int, float64, string) {
				return VolumeBonus(rec.TotalVolume), 1.0,
					"VOLUME: High throughput (฿" + humanize.Comma(int64(math.RoundToEven(rec.TotalVolume))) + " total)"
			},
		},
	}
}

// FanInMultiplier scales the many-to-one score by unique sender count.
// It saturates at 4.0 from 15 senders.
func FanInMultiplier(uniqueSenders int) float64 {
	return math.Min(4.0, 1+float64(uniqueSenders)/5)
}

// ClusteringMultiplier is a step function of the historical clustering count.
func ClusteringMultiplier(count int) float64 {
	switch {
	case count >= 10:
		return 3.0
	case count >= 5:
		return 2.0
	case count >= 3:
		return 1.5
	default:
		return 1.0
	}
}

// InheritanceMultiplier scales network risk by average incoming risk, capped at 2.0.
func InheritanceMultiplier(avgIncomingRisk float64) float64 {
	return math.Min(2.0, avgIncomingRisk/50)
}

// VolumeBonus is the always-on throughput amplification.
func VolumeBonus(totalVolume float64) int {
	if totalVolume <= 500000 {
		return 0
	}
	return min(20, int(math.Floor(totalVolume/100000)))
}

func flat(evidence string) func(*domain.FeatureRecord, int) (int, float64, string) {
	return func(_ *domain.FeatureRecord, base int) (int, float64, string) {
		return base, 1.0, evidence
	}
}

func floorScore(base int, multiplier float64) int {
	return int(math.Floor(float64(base) * multiplier))
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func clusteringList() string {
	parts := make([]string, 0, len(domain.ClusteringAmounts))
	for _, a := range domain.ClusteringAmounts {
		parts = append(parts, strconv.FormatFloat(a, 'f', 1, 64))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func activationFor(rec *domain.FeatureRecord) map[string]any {
	return map[string]any{
		"amount":                  rec.Amount,
		"velocity":                int64(rec.Velocity),
		"flow_ratio":              rec.FlowRatio,
		"median_holding_time":     rec.MedianHoldingTime,
		"burst_rate":              int64(rec.BurstRate),
		"monthly_turnover":        rec.MonthlyTurnover,
		"inferred_income_bucket":  string(rec.InferredIncomeBucket),
		"is_structuring":          rec.IsStructuring,
		"incoming_tx_count":       int64(rec.IncomingTxCount),
		"unique_sender_count":     int64(rec.UniqueSenderCount),
		"total_volume":            rec.TotalVolume,
		"avg_incoming_risk":       rec.AvgIncomingRisk,
		"clustering_amount_count": int64(rec.ClusteringAmountCount),
	}
}
