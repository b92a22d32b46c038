package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
)

type recordingIngester struct {
	mu   sync.Mutex
	seen []string
	fail bool
}

func (r *recordingIngester) Ingest(_ context.Context, tx *domain.Transaction) (*domain.Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("repository unavailable")
	}
	r.seen = append(r.seen, tx.TransactionID)
	return &domain.Assessment{TransactionID: tx.TransactionID, Action: domain.ActionMonitor}, nil
}

func (r *recordingIngester) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func publish(t *testing.T, b domain.EventBus, tx domain.Transaction) {
	t.Helper()
	payload, _ := json.Marshal(tx)
	if err := b.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingIngester{})

		if err := w.Start(Config{Concurrency: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("unexpected topic %s", stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		ing := &recordingIngester{}
		w := NewWorker(eventBus, ing)
		if err := w.Start(Config{Concurrency: 4}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		for _, id := range []string{"TX-1", "TX-2", "TX-3"} {
			publish(t, eventBus, domain.Transaction{TransactionID: id, Amount: 500, ReceiverAccount: "R"})
		}

		waitUntil(t, func() bool { return w.GetStats().Processed == 3 })
		if got := ing.ids(); len(got) != 3 {
			t.Errorf("expected 3 ingested transactions, got %v", got)
		}
	})

	t.Run("FailuresAreCounted", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingIngester{fail: true})
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		publish(t, eventBus, domain.Transaction{TransactionID: "TX-F"})
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("not-json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitUntil(t, func() bool { return w.GetStats().Failed == 2 })
		if w.GetStats().Processed != 0 {
			t.Error("expected no successful messages")
		}
	})
}
