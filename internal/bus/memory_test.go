package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.EnsureTopic(ctx, "relay.results.abc"))

	received := make(chan *Message, 1)
	sub, err := b.Subscribe(ctx, "relay.results.abc", func(msg *Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(ctx, "relay.results.abc", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", string(msg.Data))
		assert.Equal(t, "relay.results.abc", msg.Topic)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryBusPublishToMissingTopic(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	err := b.Publish(context.Background(), "relay.commands.nope", []byte("x"))
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestMemoryBusEnsureTopicIdempotent(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.EnsureTopic(ctx, "t"))
	require.NoError(t, b.EnsureTopic(ctx, "t"))
}

func TestMemoryBusDeleteTopicIdempotent(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.EnsureTopic(ctx, "t"))
	require.NoError(t, b.DeleteTopic(ctx, "t"))
	require.NoError(t, b.DeleteTopic(ctx, "t"))

	err := b.Publish(ctx, "t", []byte("x"))
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestMemoryBusBroadcast(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.EnsureTopic(ctx, "t"))

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := b.Subscribe(ctx, "t", func(msg *Message) {
			count.Add(1)
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(ctx, "t", []byte("x")))

	assert.Eventually(t, func() bool {
		return count.Load() == 3
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.EnsureTopic(ctx, "t"))

	var count atomic.Int32
	sub, err := b.Subscribe(ctx, "t", func(msg *Message) {
		count.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "t", []byte("1")))
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.Publish(ctx, "t", []byte("2")))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestMemoryBusClosedOperations(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	ctx := context.Background()
	assert.ErrorIs(t, b.EnsureTopic(ctx, "t"), ErrClosed)
	assert.ErrorIs(t, b.Publish(ctx, "t", nil), ErrClosed)
	_, err := b.Subscribe(ctx, "t", func(*Message) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Close(), ErrClosed)
}
