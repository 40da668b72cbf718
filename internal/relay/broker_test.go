package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/bus"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/view"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

var fakeShot = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

// attachFakeWorker subscribes to the session's command channel and
// answers every command with a screenshot result, the way a live worker
// would.
func attachFakeWorker(t *testing.T, b bus.Bus, sessionID string) {
	t.Helper()
	_, err := b.Subscribe(context.Background(), CommandTopic(sessionID), func(msg *bus.Message) {
		var env models.CommandEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		reply, _ := json.Marshal(map[string]string{
			"id":         env.ID,
			"screenshot": base64.StdEncoding.EncodeToString(fakeShot),
			"url":        "https://example.com/",
		})
		_ = b.Publish(context.Background(), ResultTopic(sessionID), reply)
	})
	require.NoError(t, err)
}

func newBrokerFixture(t *testing.T) (*BrokerBackend, bus.Bus, *Registry, *view.Fanout) {
	t.Helper()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { b.Close() })
	reg := NewRegistry()
	views := view.NewFanout()
	return NewBrokerBackend(b, reg, views), b, reg, views
}

func TestBrokerPublishResolvesResult(t *testing.T) {
	backend, b, reg, _ := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s1"))
	attachFakeWorker(t, b, "s1")

	res, err := backend.Publish(ctx, "s1", models.Command{Name: models.CmdScreenshot}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, fakeShot, res.Screenshot)
	assert.Equal(t, "https://example.com/", res.URL)
	assert.False(t, res.Failed())

	// No ticket may outlive its command.
	assert.Equal(t, 0, reg.PendingCount())
}

func TestBrokerPublishReattachesConsumer(t *testing.T) {
	backend, b, reg, _ := newBrokerFixture(t)
	ctx := context.Background()

	// The session's channels exist but this process never attached,
	// as when another replica created the session.
	require.NoError(t, b.EnsureTopic(ctx, CommandTopic("s2")))
	require.NoError(t, b.EnsureTopic(ctx, ResultTopic("s2")))
	attachFakeWorker(t, b, "s2")

	require.False(t, reg.HasConsumer("s2"))

	res, err := backend.Publish(ctx, "s2", models.Command{Name: models.CmdScreenshot}, 2*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Screenshot)
	assert.True(t, reg.HasConsumer("s2"))
}

func TestBrokerPublishTimeout(t *testing.T) {
	backend, _, reg, _ := newBrokerFixture(t)
	ctx := context.Background()

	// Channels exist, but no worker ever answers.
	require.NoError(t, backend.StartSession(ctx, "s3"))

	_, err := backend.Publish(ctx, "s3", models.Command{Name: models.CmdScreenshot}, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCommandTimeout)

	// The timed out ticket must not linger in the pending map.
	assert.Equal(t, 0, reg.PendingCount())
}

func TestBrokerPublishDeliveryFailure(t *testing.T) {
	backend, b, reg, _ := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s4"))
	require.NoError(t, b.DeleteTopic(ctx, CommandTopic("s4")))

	_, err := backend.Publish(ctx, "s4", models.Command{Name: models.CmdScreenshot}, time.Second)
	require.ErrorIs(t, err, ErrDelivery)
	assert.Equal(t, 0, reg.PendingCount())
}

func TestBrokerDuplicateResultIsDropped(t *testing.T) {
	backend, b, reg, _ := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s5"))

	// Worker answers twice with the same id; the second copy must land
	// on a ticket that is already gone.
	_, err := b.Subscribe(ctx, CommandTopic("s5"), func(msg *bus.Message) {
		var env models.CommandEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		reply, _ := json.Marshal(map[string]string{"id": env.ID, "url": "https://example.com/"})
		_ = b.Publish(ctx, ResultTopic("s5"), reply)
		_ = b.Publish(ctx, ResultTopic("s5"), reply)
	})
	require.NoError(t, err)

	res, err := backend.Publish(ctx, "s5", models.Command{Name: models.CmdScreenshot}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", res.URL)

	assert.Eventually(t, func() bool {
		return reg.PendingCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBrokerMalformedResultIsDropped(t *testing.T) {
	backend, b, _, views := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s6"))

	// Worker sends garbage first, then the real answer. The garbage must
	// be swallowed without feeding viewers or crashing the consumer.
	_, err := b.Subscribe(ctx, CommandTopic("s6"), func(msg *bus.Message) {
		var env models.CommandEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		_ = b.Publish(ctx, ResultTopic("s6"), []byte(`not json at all`))
		_ = b.Publish(ctx, ResultTopic("s6"), []byte(`{"url":"no id"}`))
		reply, _ := json.Marshal(map[string]string{
			"id":         env.ID,
			"screenshot": base64.StdEncoding.EncodeToString(fakeShot),
		})
		_ = b.Publish(ctx, ResultTopic("s6"), reply)
	})
	require.NoError(t, err)

	stream := views.Subscribe(ctx, "s6")
	defer stream.Close()

	res, err := backend.Publish(ctx, "s6", models.Command{Name: models.CmdScreenshot}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, fakeShot, res.Screenshot)

	select {
	case frame := <-stream.C:
		assert.Equal(t, fakeShot, frame.Screenshot)
	case <-time.After(time.Second):
		t.Fatal("viewer never received the valid frame")
	}
	// Only the valid result reaches viewers.
	assert.Empty(t, stream.C)
}

func TestBrokerErrorResultIsReturnedNotDropped(t *testing.T) {
	backend, b, _, _ := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s7"))

	_, err := b.Subscribe(ctx, CommandTopic("s7"), func(msg *bus.Message) {
		var env models.CommandEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		reply, _ := json.Marshal(map[string]string{"id": env.ID, "error": "element not found"})
		_ = b.Publish(ctx, ResultTopic("s7"), reply)
	})
	require.NoError(t, err)

	res, err := backend.Publish(ctx, "s7", models.Command{Name: models.CmdClickAt, Args: json.RawMessage(`{"x":1,"y":2}`)}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "element not found", res.Err)
}

func TestBrokerEndSessionIsIdempotent(t *testing.T) {
	backend, _, reg, _ := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s8"))
	require.True(t, reg.HasConsumer("s8"))

	require.NoError(t, backend.EndSession(ctx, "s8"))
	assert.False(t, reg.HasConsumer("s8"))
	require.NoError(t, backend.EndSession(ctx, "s8"))
}

func TestBrokerStartSessionIsIdempotent(t *testing.T) {
	backend, b, _, _ := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, backend.StartSession(ctx, "s9"))
	require.NoError(t, backend.StartSession(ctx, "s9"))

	attachFakeWorker(t, b, "s9")
	res, err := backend.Publish(ctx, "s9", models.Command{Name: models.CmdScreenshot}, 2*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Screenshot)
}
