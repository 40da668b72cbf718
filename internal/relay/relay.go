// Package relay delivers commands to session workers over an
// asynchronous channel and correlates each command with its eventual
// result. Two backends satisfy the same contract: a broker-based one for
// distributed deployments and a local one that execs into the worker
// container directly.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

var (
	// ErrDelivery is returned when the channel could not accept a command.
	ErrDelivery = errors.New("command delivery failed")

	// ErrCommandTimeout is returned when no result arrived before the
	// deadline. The caller may retry; the relay itself never does, since
	// replaying a click or navigation is not idempotent.
	ErrCommandTimeout = errors.New("command timed out")
)

// Backend delivers one command to a session's worker and returns its
// result, hiding whether delivery was synchronous or broker-mediated.
type Backend interface {
	// StartSession prepares channel resources for the session. Idempotent.
	StartSession(ctx context.Context, sessionID string) error

	// Publish delivers the command and blocks until its result arrives,
	// the timeout elapses, or delivery fails.
	Publish(ctx context.Context, sessionID string, cmd models.Command, timeout time.Duration) (models.Result, error)

	// Attach makes sure results for the session are consumed on this
	// process, for passive viewers that have no command in flight.
	Attach(ctx context.Context, sessionID string) error

	// EndSession releases all channel resources for the session.
	// Tolerates already-absent resources.
	EndSession(ctx context.Context, sessionID string) error
}
