// Package bus abstracts the pub/sub broker the relay uses to talk to
// workers. The default implementation is NATS JetStream; an in-memory
// implementation backs tests and broker-less single-process runs.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")

	// ErrTopicNotFound is returned when publishing to a topic that was
	// never created or has been deleted.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrPublishTimeout is returned when the broker did not acknowledge a
	// publish before the context deadline.
	ErrPublishTimeout = errors.New("publish not acknowledged before deadline")
)

// Message is one payload delivered to a subscription handler.
type Message struct {
	Topic string
	Data  []byte
}

// Handler processes incoming messages. It runs on a goroutine owned by
// the bus driver and must never panic; the message is acknowledged after
// the handler returns regardless of what it did, so unusable payloads
// are dropped rather than redelivered.
type Handler func(msg *Message)

// Subscription is an active consumer attachment that can be detached.
type Subscription interface {
	// Unsubscribe stops delivery and releases the consumer. Safe to call
	// more than once.
	Unsubscribe() error

	// Topic returns the topic this subscription consumes.
	Topic() string
}

// Bus is the broker contract the relay depends on. Implementations must
// be safe for concurrent use.
type Bus interface {
	// EnsureTopic creates the topic if it does not exist. An already
	// existing topic is success, not an error.
	EnsureTopic(ctx context.Context, topic string) error

	// DeleteTopic removes the topic and its subscriptions. An already
	// absent topic is success, not an error.
	DeleteTopic(ctx context.Context, topic string) error

	// Publish sends data to the topic and blocks until the broker
	// acknowledges it or ctx expires.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe attaches a consumer to the topic. Every subscriber
	// receives every message (broadcast, not competing consumers).
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}
