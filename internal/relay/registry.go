package relay

import (
	"sync"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/bus"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/ticket"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// Registry owns the per-process mutable channel state: the pending
// ticket map and the per-session consumer attachments. The broker
// driver's callback goroutines and the request path mutate it
// concurrently, so every access goes through the mutex.
type Registry struct {
	mu        sync.Mutex
	pending   map[string]*ticket.Ticket
	consumers map[string]bus.Subscription
}

// NewRegistry creates an empty registry. Construct one per process and
// inject it; there is no ambient singleton.
func NewRegistry() *Registry {
	return &Registry{
		pending:   make(map[string]*ticket.Ticket),
		consumers: make(map[string]bus.Subscription),
	}
}

// Track adds a ticket to the pending map.
func (r *Registry) Track(t *ticket.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[t.ID] = t
}

// Remove takes a ticket out of the pending map, returning false if the
// id was not pending.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; !ok {
		return false
	}
	delete(r.pending, id)
	return true
}

// Resolve removes the pending ticket for the result's id and resolves
// it. Returns false when no ticket matches, which covers duplicate
// delivery and tickets that already timed out.
func (r *Registry) Resolve(res models.Result) bool {
	r.mu.Lock()
	t, ok := r.pending[res.ID]
	if ok {
		delete(r.pending, res.ID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	return t.Resolve(res)
}

// PendingCount returns the number of in-flight tickets.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Pending reports whether a ticket id is currently in the pending map.
func (r *Registry) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// AttachConsumer attaches a result consumer for the session unless one
// is already active on this process. attach runs under the registry
// lock so two concurrent publishes cannot both attach.
func (r *Registry) AttachConsumer(sessionID string, attach func() (bus.Subscription, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.consumers[sessionID]; ok {
		return nil
	}
	sub, err := attach()
	if err != nil {
		return err
	}
	r.consumers[sessionID] = sub
	return nil
}

// HasConsumer reports whether a consumer attachment exists for the session.
func (r *Registry) HasConsumer(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.consumers[sessionID]
	return ok
}

// DetachConsumer removes and returns the session's consumer attachment,
// or nil when none exists.
func (r *Registry) DetachConsumer(sessionID string) bus.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.consumers[sessionID]
	delete(r.consumers, sessionID)
	return sub
}
