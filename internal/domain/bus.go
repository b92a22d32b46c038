package domain

import "context"

// Pipeline topics. NATS uses them verbatim as subjects.
const (
	TopicTransactionIngested = "heron.transaction.ingested"
	TopicTransactionScored   = "heron.transaction.scored"
	TopicAlert               = "heron.alert"
	TopicRuleToggled         = "heron.rule.toggled"
)

// EventBus carries pipeline events between the API, the async worker and
// the alert stream. The community tier uses in-process channels and the
// pro tier uses NATS.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope published on every topic. Metadata carries
// trace_id when the publisher had an active span.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// NATSQueueGroup load-balances ingest events across instances.
	NATSQueueGroup string
}
