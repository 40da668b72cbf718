package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/bus"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/metrics"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/ticket"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/view"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// CommandTopic returns the session's command channel name. Names are
// derived from the session id alone so every controller replica agrees
// on them.
func CommandTopic(sessionID string) string {
	return "relay.commands." + sessionID
}

// ResultTopic returns the session's result channel name.
func ResultTopic(sessionID string) string {
	return "relay.results." + sessionID
}

// BrokerBackend relays commands over a pub/sub broker with per-session
// topics. Publishing a command and receiving its result are decoupled;
// the registry's pending map joins them back together by ticket id.
type BrokerBackend struct {
	bus   bus.Bus
	reg   *Registry
	views *view.Fanout
}

// NewBrokerBackend wires the backend to its broker, registry, and viewer
// fan-out.
func NewBrokerBackend(b bus.Bus, reg *Registry, views *view.Fanout) *BrokerBackend {
	return &BrokerBackend{bus: b, reg: reg, views: views}
}

// StartSession creates the session's command and result channels and
// attaches a result consumer on this process. Safe to call when the
// channels already exist.
func (b *BrokerBackend) StartSession(ctx context.Context, sessionID string) error {
	if err := b.bus.EnsureTopic(ctx, CommandTopic(sessionID)); err != nil {
		return err
	}
	if err := b.bus.EnsureTopic(ctx, ResultTopic(sessionID)); err != nil {
		return err
	}
	return b.Attach(ctx, sessionID)
}

// Attach idempotently attaches a result consumer for the session on this
// process.
func (b *BrokerBackend) Attach(ctx context.Context, sessionID string) error {
	return b.reg.AttachConsumer(sessionID, func() (bus.Subscription, error) {
		return b.bus.Subscribe(ctx, ResultTopic(sessionID), b.resultHandler(sessionID))
	})
}

// Publish serializes {id, command}, publishes it to the session's
// command channel, and awaits the matching result.
//
// If no consumer attachment exists for the session on this process, one
// is created first. The process serving this request may not be the one
// that created the session; without the attachment the worker's response
// would arrive with no local listener and be silently lost.
func (b *BrokerBackend) Publish(ctx context.Context, sessionID string, cmd models.Command, timeout time.Duration) (models.Result, error) {
	if !b.reg.HasConsumer(sessionID) {
		log.Printf("no active consumer for session %s on this host, starting one", sessionID)
		if err := b.StartSession(ctx, sessionID); err != nil {
			return models.Result{}, fmt.Errorf("%w: reattach: %v", ErrDelivery, err)
		}
	}

	t := ticket.New(cmd)
	payload, err := json.Marshal(models.CommandEnvelope{ID: t.ID, Command: cmd})
	if err != nil {
		return models.Result{}, fmt.Errorf("%w: marshal: %v", ErrDelivery, err)
	}

	b.reg.Track(t)

	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := b.bus.Publish(pubCtx, CommandTopic(sessionID), payload); err != nil {
		b.reg.Remove(t.ID)
		return models.Result{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	metrics.CommandsPublished.Inc()
	log.Printf("published command %s to session %s in %.2fs", t.ID, sessionID, time.Since(start).Seconds())

	res, err := t.Await(ctx, timeout)
	if err != nil {
		// Remove now so a late result is dropped instead of resolving a
		// ticket nobody is waiting on.
		b.reg.Remove(t.ID)
		if errors.Is(err, ticket.ErrTimeout) {
			return models.Result{}, fmt.Errorf("%w: command %s", ErrCommandTimeout, t.ID)
		}
		return models.Result{}, err
	}
	return res, nil
}

// EndSession detaches the consumer and deletes both channels. Absent
// resources are treated as success so teardown is idempotent.
func (b *BrokerBackend) EndSession(ctx context.Context, sessionID string) error {
	if sub := b.reg.DetachConsumer(sessionID); sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("detach consumer for session %s: %v", sessionID, err)
		}
	}
	if err := b.bus.DeleteTopic(ctx, CommandTopic(sessionID)); err != nil {
		return err
	}
	return b.bus.DeleteTopic(ctx, ResultTopic(sessionID))
}

// resultHandler builds the callback the bus driver invokes for every
// message on the session's result channel. It runs on the driver's own
// goroutines and does exactly one thing: look the ticket up in the
// registry and signal it. Unusable payloads are dropped here, never
// raised into the driver.
func (b *BrokerBackend) resultHandler(sessionID string) bus.Handler {
	return func(msg *bus.Message) {
		res, err := models.ParseResult(msg.Data)
		if err == nil && res.ID == "" {
			err = fmt.Errorf("result has no id")
		}
		if err != nil {
			metrics.ResultsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
			log.Printf("dropping malformed result on session %s: %v", sessionID, err)
			return
		}

		b.views.Publish(sessionID, res)

		if !b.reg.Resolve(res) {
			metrics.ResultsDropped.WithLabelValues(metrics.DropReasonUnknownTicket).Inc()
			log.Printf("received result for unknown or already processed ticket %s", res.ID)
			return
		}
		metrics.ResultsResolved.Inc()
	}
}
