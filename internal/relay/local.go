package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/metrics"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/view"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// Runner executes one command inside a session's worker and returns the
// worker's raw JSON output. The Docker implementation lives in
// docker.go; tests substitute a fake.
type Runner interface {
	RunCommand(ctx context.Context, sessionID string, payload []byte) ([]byte, error)
	StopWorker(ctx context.Context, sessionID string) error
}

// LocalBackend satisfies the Backend contract without a broker: publish
// invokes the worker synchronously and returns the result inline. It
// exists to make single-machine development and testing cheap; the
// controller cannot tell it apart from the broker variant.
type LocalBackend struct {
	runner Runner
	views  *view.Fanout
}

// NewLocalBackend wires the backend to its worker runner and viewer
// fan-out.
func NewLocalBackend(runner Runner, views *view.Fanout) *LocalBackend {
	return &LocalBackend{runner: runner, views: views}
}

// StartSession is a no-op: worker start and stop belong to the
// provisioner, and there is no consumer to attach.
func (b *LocalBackend) StartSession(ctx context.Context, sessionID string) error {
	return nil
}

// Attach is a no-op: results are returned inline, so viewers are fed
// directly from the publish path.
func (b *LocalBackend) Attach(ctx context.Context, sessionID string) error {
	return nil
}

// Publish execs the command in the session's worker and parses the
// result from its output.
func (b *LocalBackend) Publish(ctx context.Context, sessionID string, cmd models.Command, timeout time.Duration) (models.Result, error) {
	id := uuid.New().String()
	payload, err := json.Marshal(models.CommandEnvelope{ID: id, Command: cmd})
	if err != nil {
		return models.Result{}, fmt.Errorf("%w: marshal: %v", ErrDelivery, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := b.runner.RunCommand(runCtx, sessionID, payload)
	if runCtx.Err() == context.DeadlineExceeded {
		return models.Result{}, fmt.Errorf("%w: command %s", ErrCommandTimeout, id)
	}
	if err != nil {
		return models.Result{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	metrics.CommandsPublished.Inc()

	res, err := models.ParseResult(out)
	if err != nil {
		metrics.ResultsDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		return models.Result{}, fmt.Errorf("%w: unusable worker output: %v", ErrDelivery, err)
	}
	metrics.ResultsResolved.Inc()

	// The worker may omit the id on the synchronous path.
	if res.ID == "" {
		res.ID = id
	}
	b.views.Publish(sessionID, res)
	return res, nil
}

// EndSession stops the worker. A worker that is already gone is success.
func (b *LocalBackend) EndSession(ctx context.Context, sessionID string) error {
	if err := b.runner.StopWorker(ctx, sessionID); err != nil {
		log.Printf("stopping worker for session %s: %v", sessionID, err)
	}
	return nil
}
