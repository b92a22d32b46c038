// Package worker scores transactions published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Ingester scores and persists one transaction.
type Ingester interface {
	Ingest(ctx context.Context, tx *domain.Transaction) (*domain.Assessment, error)
}

// Worker consumes heron.transaction.ingested and runs each message
// through the ingest pipeline on a bounded pool of goroutines.
type Worker struct {
	bus      domain.EventBus
	ingester Ingester

	sem           chan struct{}
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.Mutex
	stopped       bool

	processed int64
	failed    int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency is the maximum number of transactions scored at once.
	Concurrency int

	// Timeout bounds the processing of a single message.
	Timeout time.Duration
}

const (
	defaultConcurrency = 8
	defaultTimeout     = 10 * time.Second
)

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, ingester Ingester) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		ingester: ingester,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingest topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(msg, cfg.Timeout)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// dispatch blocks until a pool slot is free, then processes msg in the background.
func (w *Worker) dispatch(msg *domain.Message, timeout time.Duration) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.sem
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		ctx, cancel := context.WithTimeout(w.ctx, timeout)
		defer cancel()

		if err := w.processTransaction(ctx, msg); err != nil {
			w.mu.Lock()
			w.failed++
			w.mu.Unlock()
			return
		}
		w.mu.Lock()
		w.processed++
		w.mu.Unlock()
	}()
	return nil
}

// processTransaction decodes and ingests one message.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("processing transaction",
		"transaction_id", tx.TransactionID,
		"trace_id", msg.Metadata["trace_id"],
	)

	if _, err := w.ingester.Ingest(ctx, &tx); err != nil {
		slog.Error("failed to ingest transaction",
			"transaction_id", tx.TransactionID,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop unsubscribes and waits for in-flight messages.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
