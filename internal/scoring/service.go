// Package scoring runs the end-to-end scoring pipeline: features, rules,
// decision, persistence and event publication.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/decision"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/graph"
	"github.com/opensource-finance/heron/internal/logging"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/tracing"
)

// TransferRecorder tracks ingested transfers for later feature reads.
type TransferRecorder interface {
	RecordTransfer(ctx context.Context, tx *domain.Transaction) error
}

// Service scores transactions. It is safe for concurrent use.
type Service struct {
	engine    *rules.Engine
	builder   *features.Builder
	processor *decision.Processor
	repo      domain.Repository
	graph     *graph.Service
	bus       domain.EventBus
	metrics   *metrics.Collector
	recorder  TransferRecorder
}

// Deps are the collaborators of a Service. Bus, Metrics and Recorder are optional.
type Deps struct {
	Engine    *rules.Engine
	Builder   *features.Builder
	Processor *decision.Processor
	Repo      domain.Repository
	Graph     *graph.Service
	Bus       domain.EventBus
	Metrics   *metrics.Collector
	Recorder  TransferRecorder
}

// NewService creates a scoring service.
func NewService(d Deps) (*Service, error) {
	if d.Engine == nil || d.Builder == nil || d.Processor == nil {
		return nil, fmt.Errorf("%w: engine, builder and processor are required", domain.ErrInvalidInput)
	}
	if d.Repo == nil || d.Graph == nil {
		return nil, fmt.Errorf("%w: repository and graph service are required", domain.ErrInvalidInput)
	}
	return &Service{
		engine:    d.Engine,
		builder:   d.Builder,
		processor: d.Processor,
		repo:      d.Repo,
		graph:     d.Graph,
		bus:       d.Bus,
		metrics:   d.Metrics,
		recorder:  d.Recorder,
	}, nil
}

// Engine returns the rule engine.
func (s *Service) Engine() *rules.Engine {
	return s.engine
}

// Thresholds returns the active decision thresholds.
func (s *Service) Thresholds() decision.Thresholds {
	return s.processor.Thresholds()
}

// ScoredEvent is the payload of heron.transaction.scored and heron.alert.
type ScoredEvent struct {
	Transaction domain.Transaction `json:"transaction"`
	Assessment  *domain.Assessment `json:"assessment"`
}

// Predict scores req without persisting anything or advancing any counter.
// A feature provider failure returns an error wrapping domain.ErrUpstreamUnavailable.
func (s *Service) Predict(ctx context.Context, req *domain.ScoreRequest) (*domain.Assessment, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.predict",
		tracing.TransactionID(req.Transaction.TransactionID),
		tracing.Account(req.Transaction.ReceiverAccount),
	)
	defer span.End()

	start := time.Now()

	rec, err := s.builder.Build(ctx, req)
	if err != nil {
		span.RecordError(err)
		if s.metrics != nil && errors.Is(err, domain.ErrUpstreamUnavailable) {
			s.metrics.ProviderError()
		}
		return nil, err
	}
	featuresDone := time.Now()

	result := s.engine.Evaluate(rec)
	rulesDone := time.Now()

	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = logging.RequestID(ctx)
	}

	assessment := s.processor.Process(ctx, &decision.DecisionInput{
		TransactionID: req.Transaction.TransactionID,
		TraceID:       traceID,
		Features:      rec,
		Result:        result,
		StartTime:     start,
		FeaturesMs:    featuresDone.Sub(start).Milliseconds(),
		RulesMs:       rulesDone.Sub(featuresDone).Milliseconds(),
	})

	span.SetAttributes(tracing.RiskScore(assessment.RiskScore), tracing.Action(assessment.Action))

	if s.metrics != nil {
		ids := make([]string, len(result.Contributions))
		for i, c := range result.Contributions {
			ids[i] = c.RuleID
		}
		s.metrics.ObserveScore(string(assessment.Action), assessment.RiskScore, ids, time.Since(start))
	}

	return assessment, nil
}

// Ingest scores tx against the stored history of its receiver, persists
// the result and publishes the scored (and, if needed, alert) events.
func (s *Service) Ingest(ctx context.Context, tx *domain.Transaction) (*domain.Assessment, error) {
	prepare(tx)

	// The transfer counts toward its own burst window.
	if s.recorder != nil {
		if err := s.recorder.RecordTransfer(ctx, tx); err != nil {
			slog.Warn("failed to record transfer", "transaction_id", tx.TransactionID, "error", err)
		}
	}

	req := &domain.ScoreRequest{
		Transaction: *tx,
		Graph:       s.graph.ReceiverContext(ctx, tx.ReceiverAccount),
	}

	assessment, err := s.Predict(ctx, req)
	if err != nil {
		return nil, err
	}

	scored := &domain.ScoredTransaction{
		Transaction: *tx,
		RiskScore:   assessment.RiskScore,
		Action:      assessment.Action,
		Reasons:     assessment.Reasons,
		ScoredAt:    assessment.Timestamp,
	}
	if err := s.repo.SaveTransaction(ctx, scored); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}
	s.graph.Invalidate(ctx, tx.ReceiverAccount)

	s.publish(ctx, tx, assessment)

	slog.Info("transaction scored",
		"transaction_id", tx.TransactionID,
		"receiver", tx.ReceiverAccount,
		"risk_score", assessment.RiskScore,
		"action", assessment.Action,
		"duration_ms", assessment.Metadata.TotalMs,
	)

	return assessment, nil
}

// Enqueue publishes tx for the async worker and returns its transaction id.
func (s *Service) Enqueue(ctx context.Context, tx *domain.Transaction) (string, error) {
	if s.bus == nil {
		return "", fmt.Errorf("%w: no event bus configured", domain.ErrInvalidInput)
	}
	prepare(tx)

	payload, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	if err := s.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		return "", fmt.Errorf("failed to enqueue transaction: %w", err)
	}
	return tx.TransactionID, nil
}

// Reset wipes stored transactions and verification stats.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.repo.Reset(ctx); err != nil {
		return err
	}
	s.graph.InvalidateAll()
	slog.Info("scoring data reset")
	return nil
}

func (s *Service) publish(ctx context.Context, tx *domain.Transaction, a *domain.Assessment) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(ScoredEvent{Transaction: *tx, Assessment: a})
	if err != nil {
		slog.Error("failed to encode scored event", "transaction_id", tx.TransactionID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		slog.Error("failed to publish scored event", "transaction_id", tx.TransactionID, "error", err)
	}
	if decision.ShouldAlert(a) {
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert", "transaction_id", tx.TransactionID, "error", err)
		}
	}
}

// prepare fills the transaction id and timestamp when the caller left them out.
func prepare(tx *domain.Transaction) {
	if tx.TransactionID == "" {
		tx.TransactionID = "TX-" + uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
}
