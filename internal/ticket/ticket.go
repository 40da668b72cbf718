// Package ticket implements the correlation object linking one sent
// command to its eventual result.
package ticket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// ErrTimeout is returned by Await when no result arrived before the deadline.
var ErrTimeout = errors.New("no result before deadline")

// Ticket is a one-shot slot for the result of a single in-flight command.
// Its id is unique per command, never per session, and is never reused.
type Ticket struct {
	ID        string
	Command   models.Command
	CreatedAt time.Time

	mu       sync.Mutex
	resolved bool
	result   models.Result
	done     chan struct{}
}

// New creates a ticket for the given command with a fresh id.
func New(cmd models.Command) *Ticket {
	return &Ticket{
		ID:        uuid.New().String(),
		Command:   cmd,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Resolve sets the result exactly once and wakes the awaiting caller.
// A second call is a no-op and returns false, so duplicate delivery can
// never double-resolve or crash the producer.
func (t *Ticket) Resolve(res models.Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return false
	}
	t.resolved = true
	t.result = res
	close(t.done)
	return true
}

// Await blocks until the ticket is resolved, the timeout elapses, or the
// context is cancelled.
func (t *Ticket) Await(ctx context.Context, timeout time.Duration) (models.Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, nil
	case <-timer.C:
		return models.Result{}, ErrTimeout
	case <-ctx.Done():
		return models.Result{}, ctx.Err()
	}
}
