// Package features normalizes scoring requests and assembles the feature
// records consumed by the rule engine.
package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// ParseRequest normalizes either accepted wire shape into a ScoreRequest:
//
//	{"transaction": {...}, "receiver_context": {...}}
//	{...transaction fields...}
//
// Graph fields that are missing, null or non-numeric become zero.
func ParseRequest(raw []byte) (*domain.ScoreRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: request body must be an object", domain.ErrInvalidInput)
	}

	return NormalizeRequest(body), nil
}

// NormalizeRequest converts a decoded request object into a ScoreRequest.
func NormalizeRequest(body map[string]any) *domain.ScoreRequest {
	txFields := body
	var graphFields map[string]any

	if nested, ok := body["transaction"].(map[string]any); ok {
		txFields = nested
		graphFields, _ = body["receiver_context"].(map[string]any)
	}

	return &domain.ScoreRequest{
		Transaction: transactionFrom(txFields),
		Graph:       graphFrom(graphFields),
	}
}

func transactionFrom(m map[string]any) domain.Transaction {
	tx := domain.Transaction{
		TransactionID:   stringField(m, "transaction_id"),
		Amount:          math.Max(0, floatField(m, "amount")),
		Currency:        stringField(m, "currency"),
		SenderAccount:   stringField(m, "sender_account"),
		ReceiverAccount: stringField(m, "receiver_account"),
		SenderIP:        stringField(m, "sender_ip"),
		ReceiverIP:      stringField(m, "receiver_ip"),
		DeviceID:        stringField(m, "device_id"),
		Channel:         stringField(m, "channel"),
		Location:        stringField(m, "location"),
		TransactionType: stringField(m, "transaction_type"),
	}
	if ts := stringField(m, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			tx.Timestamp = parsed.UTC()
		}
	}
	return tx
}

func graphFrom(m map[string]any) domain.GraphContext {
	if m == nil {
		return domain.GraphContext{}
	}
	return domain.GraphContext{
		IncomingTxCount:       max(0, intField(m, "incoming_tx_count")),
		UniqueSenderCount:     max(0, intField(m, "unique_sender_count")),
		ClusteringAmountCount: max(0, intField(m, "clustering_amount_count")),
		TotalVolume:           math.Max(0, floatField(m, "total_volume")),
		AvgIncomingRisk:       math.Min(100, math.Max(0, floatField(m, "avg_incoming_risk"))),
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// floatField reads a number or numeric string; anything else is 0.
func floatField(m map[string]any, key string) float64 {
	var f float64
	switch v := m[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// intField truncates like a float-to-int conversion.
func intField(m map[string]any, key string) int {
	f := floatField(m, key)
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(f)
}

// Builder combines a normalized request with behavioral features.
type Builder struct {
	provider domain.FeatureProvider
}

// NewBuilder creates a builder backed by provider.
func NewBuilder(provider domain.FeatureProvider) *Builder {
	return &Builder{provider: provider}
}

// Build produces the feature record for req.
// A provider failure fails only this request.
func (b *Builder) Build(ctx context.Context, req *domain.ScoreRequest) (*domain.FeatureRecord, error) {
	profile, err := b.provider.Profile(ctx, &req.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: feature provider: %w", domain.ErrUpstreamUnavailable, err)
	}
	if profile == nil {
		neutral := domain.NeutralProfile()
		profile = &neutral
	}

	return &domain.FeatureRecord{
		Amount:          req.Transaction.Amount,
		BehaviorProfile: *profile,
		GraphContext:    req.Graph,
	}, nil
}
