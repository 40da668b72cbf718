package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-memory implementation of Bus for tests and
// single-process development runs. Delivery order per subscription
// matches publish order; topics must be created before publishing, the
// same as the broker.
type MemoryBus struct {
	mu         sync.RWMutex
	topics     map[string]struct{}
	subs       map[string][]*memorySubscription
	closed     atomic.Bool
	subCounter atomic.Uint64
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]struct{}),
		subs:   make(map[string][]*memorySubscription),
	}
}

func (b *MemoryBus) EnsureTopic(ctx context.Context, topic string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = struct{}{}
	return nil
}

func (b *MemoryBus) DeleteTopic(ctx context.Context, topic string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
	for _, sub := range b.subs[topic] {
		sub.stop()
	}
	delete(b.subs, topic)
	return nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.topics[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}

	msg := &Message{Topic: topic, Data: data}
	for _, sub := range b.subs[topic] {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.messages <- msg:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:       fmt.Sprintf("sub-%d", b.subCounter.Add(1)),
		topic:    topic,
		messages: make(chan *Message, 256),
		handler:  h,
		bus:      b,
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go sub.run()

	return sub, nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = make(map[string][]*memorySubscription)
	return nil
}

type memorySubscription struct {
	id       string
	topic    string
	messages chan *Message
	handler  Handler
	bus      *MemoryBus
	closed   atomic.Bool
}

func (s *memorySubscription) run() {
	for msg := range s.messages {
		s.handler(msg)
	}
}

// stop is called with the bus lock held.
func (s *memorySubscription) stop() {
	if s.closed.Swap(true) {
		return
	}
	close(s.messages)
}

func (s *memorySubscription) Unsubscribe() error {
	if s.closed.Load() {
		return nil
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.topic]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.stop()
	return nil
}

func (s *memorySubscription) Topic() string {
	return s.topic
}
