// Package view fans every session result out to passive live viewers,
// independent of the command/response correlation path.
package view

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/metrics"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// Fanout maintains the per-session listener queues. Every listener
// receives a copy of every result (broadcast, not competing consumers).
type Fanout struct {
	mu        sync.Mutex
	listeners map[string]map[uint64]chan models.Result
	nextID    uint64
}

// NewFanout creates an empty fan-out registry.
func NewFanout() *Fanout {
	return &Fanout{
		listeners: make(map[string]map[uint64]chan models.Result),
	}
}

// Stream is one viewer's cancellable sequence of results. C is closed
// when the stream is cancelled or the session ends.
type Stream struct {
	C      <-chan models.Result
	cancel func()
}

// Close detaches the stream and releases its queue. Safe to call more
// than once.
func (s *Stream) Close() {
	s.cancel()
}

// Subscribe attaches a viewer to the session. The stream detaches itself
// when ctx is cancelled, so a disconnecting client releases its queue
// without any server-side deadline.
func (f *Fanout) Subscribe(ctx context.Context, sessionID string) *Stream {
	ch := make(chan models.Result, 32)

	f.mu.Lock()
	if f.listeners[sessionID] == nil {
		f.listeners[sessionID] = make(map[uint64]chan models.Result)
	}
	f.nextID++
	id := f.nextID
	f.listeners[sessionID][id] = ch
	f.mu.Unlock()

	metrics.ViewerStreams.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.remove(sessionID, id)
			metrics.ViewerStreams.Dec()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return &Stream{C: ch, cancel: cancel}
}

// Publish delivers the result to every listener currently registered for
// the session. Zero listeners is a no-op, not an error.
func (f *Fanout) Publish(sessionID string, res models.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.listeners[sessionID] {
		select {
		case ch <- res:
		default:
			// Viewer is not draining; dropping a frame beats blocking
			// the delivery path.
			log.Printf("viewer %d on session %s is lagging, dropping frame", id, sessionID)
		}
	}
}

// EndSession closes and removes every listener queue for the session.
// The viewer gauge is decremented by each stream's own cancel when its
// handler unwinds off the closed channel.
func (f *Fanout) EndSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.listeners[sessionID] {
		close(ch)
	}
	delete(f.listeners, sessionID)
}

// Listeners returns the number of attached viewers for the session.
func (f *Fanout) Listeners(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[sessionID])
}

func (f *Fanout) remove(sessionID string, id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.listeners[sessionID]
	if ch, ok := set[id]; ok {
		close(ch)
		delete(set, id)
	}
	if len(set) == 0 {
		delete(f.listeners, sessionID)
	}
}

// SSEFrame renders a result as a Server-Sent-Events screenshot frame.
func SSEFrame(res models.Result) []byte {
	payload := base64.StdEncoding.EncodeToString(res.Screenshot)
	return []byte(fmt.Sprintf("event: screenshot\ndata: %s\n\n", payload))
}
