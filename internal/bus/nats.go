package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBus implements Bus on NATS JetStream. Each topic is backed by a
// stream whose name is derived deterministically from the topic, so
// multiple controller replicas agree on names without coordination.
type NATSBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	closed atomic.Bool
}

// NewNATSBus connects to the given NATS URL.
func NewNATSBus(url, name string) (*NATSBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	bus, err := NewNATSBusFromConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

// NewNATSBusFromConn wraps an existing connection. Useful for tests with
// an embedded NATS server.
func NewNATSBusFromConn(conn *nats.Conn) (*NATSBus, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return &NATSBus{conn: conn, js: js}, nil
}

// streamName maps a topic to a valid JetStream stream name. Subjects use
// dots as token separators; stream names may not contain them.
func streamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "-")
}

func (b *NATSBus) EnsureTopic(ctx context.Context, topic string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	_, err := b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     streamName(topic),
		Subjects: []string{topic},
		Storage:  jetstream.MemoryStorage,
		MaxAge:   time.Hour,
	})
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		log.Printf("topic %s already exists", topic)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create stream for %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBus) DeleteTopic(ctx context.Context, topic string) error {
	if b.closed.Load() {
		return ErrClosed
	}

	err := b.js.DeleteStream(ctx, streamName(topic))
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		log.Printf("topic %s already absent", topic)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete stream for %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBus) Publish(ctx context.Context, topic string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	// js.Publish blocks until the broker acknowledges the message.
	_, err := b.js.Publish(ctx, topic, data)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if errors.Is(err, jetstream.ErrNoStreamResponse) {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	// An unnamed consumer is ephemeral: the server reclaims it once the
	// subscription goes away.
	cons, err := b.js.CreateOrUpdateConsumer(ctx, streamName(topic), jetstream.ConsumerConfig{
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer on %s: %w", topic, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		h(&Message{Topic: msg.Subject(), Data: msg.Data()})
		// Always ack: the handler owns drop decisions, redelivery would
		// only repeat them.
		if err := msg.Ack(); err != nil {
			log.Printf("ack on %s failed: %v", topic, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume on %s: %w", topic, err)
	}

	return &natsSubscription{topic: topic, cc: cc}, nil
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	topic   string
	cc      jetstream.ConsumeContext
	stopped atomic.Bool
}

func (s *natsSubscription) Unsubscribe() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.cc.Stop()
	return nil
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
