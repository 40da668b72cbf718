package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/metrics"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/provision"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/relay"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/internal/view"
	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

// ErrNotFound is returned for an unknown or already ended session.
var ErrNotFound = errors.New("session not found")

// keyDelay extends the command timeout per character of typed text,
// modelling the per-keystroke latency of typing automation.
const keyDelay = 100 * time.Millisecond

// shutdownTimeout bounds the best-effort shutdown command during teardown.
const shutdownTimeout = 5 * time.Second

// Manager is the session lifecycle controller: it provisions a worker
// per session, relays commands through the channel backend, and tears
// channel resources down when the session ends.
type Manager struct {
	backend     relay.Backend
	views       *view.Fanout
	provisioner provision.Provisioner
	baseTimeout time.Duration

	// sessions maps sessionID -> *models.Session. Stored values are
	// immutable: status transitions replace the entry with a fresh copy,
	// so request goroutines may read a loaded session without locking.
	// The map is per process: commands for a session are only accepted
	// on the replica that created it, even though the broker backend can
	// reattach result consumers anywhere.
	sessions sync.Map

	// mu serializes status transitions in End.
	mu    sync.Mutex
	slots *semaphore.Weighted
}

// NewManager creates a controller capped at maxSessions concurrently
// active sessions on this process.
func NewManager(backend relay.Backend, views *view.Fanout, provisioner provision.Provisioner, maxSessions int64, baseTimeout time.Duration) *Manager {
	return &Manager{
		backend:     backend,
		views:       views,
		provisioner: provisioner,
		baseTimeout: baseTimeout,
		slots:       semaphore.NewWeighted(maxSessions),
	}
}

// Create provisions a worker and prepares channel resources for a new
// session. The worker boots out of band; success means the start request
// was accepted.
func (m *Manager) Create(ctx context.Context, cfg models.SessionConfig) (*models.Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !m.slots.TryAcquire(1) {
		return nil, fmt.Errorf("session concurrency limit reached")
	}

	sessionID := uuid.New().String()

	if err := m.backend.StartSession(ctx, sessionID); err != nil {
		m.slots.Release(1)
		return nil, fmt.Errorf("start channel resources: %w", err)
	}

	if err := m.provisioner.Start(ctx, sessionID, cfg); err != nil {
		// Clean the channel resources up so a failed provision leaves no
		// orphaned topics behind.
		if cleanupErr := m.backend.EndSession(ctx, sessionID); cleanupErr != nil {
			log.Printf("cleanup after failed provision of %s: %v", sessionID, cleanupErr)
		}
		m.slots.Release(1)
		return nil, err
	}

	now := time.Now()
	sess := &models.Session{
		ID:        sessionID,
		Config:    cfg,
		Status:    models.StatusActive,
		StartedAt: now,
		ExpiresAt: now.Add(time.Duration(cfg.TimeoutSeconds) * time.Second),
	}
	m.sessions.Store(sessionID, sess)
	metrics.ActiveSessions.Inc()

	go m.handleTimeout(sess)

	return sess, nil
}

// Send validates the command, relays it to the session's worker, and
// returns the result. The effective timeout grows with the length of
// typed text so long strings do not time out spuriously.
func (m *Manager) Send(ctx context.Context, sessionID string, cmd models.Command) (models.Result, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return models.Result{}, err
	}
	if sess.Status != models.StatusActive {
		return models.Result{}, fmt.Errorf("%w: %s has ended", ErrNotFound, sessionID)
	}

	if err := cmd.Validate(); err != nil {
		return models.Result{}, err
	}

	start := time.Now()
	res, err := m.backend.Publish(ctx, sessionID, cmd, m.EffectiveTimeout(cmd))
	if err != nil {
		return models.Result{}, err
	}
	log.Printf("command %s on session %s took %.2fs", cmd.Name, sessionID, time.Since(start).Seconds())
	return res, nil
}

// EffectiveTimeout computes the deadline for one command.
func (m *Manager) EffectiveTimeout(cmd models.Command) time.Duration {
	return m.baseTimeout + time.Duration(cmd.TextLength())*keyDelay
}

// End shuts the session down: a best-effort shutdown command to the
// worker, then deterministic release of all channel resources. Safe to
// call on an unknown or already-ended session.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		m.mu.Unlock()
		return nil
	}
	sess := value.(*models.Session)
	if sess.Status == models.StatusEnded {
		m.mu.Unlock()
		return nil
	}
	ended := *sess
	ended.Status = models.StatusEnded
	m.sessions.Store(sessionID, &ended)
	m.mu.Unlock()

	// The worker may already be gone; a failed shutdown is fine.
	shutdown := models.Command{Name: models.CmdShutdown}
	if _, err := m.backend.Publish(ctx, sessionID, shutdown, shutdownTimeout); err != nil {
		log.Printf("shutdown command for session %s: %v", sessionID, err)
	}

	if err := m.backend.EndSession(ctx, sessionID); err != nil {
		log.Printf("releasing channel resources for session %s: %v", sessionID, err)
	}
	m.views.EndSession(sessionID)

	m.slots.Release(1)
	metrics.ActiveSessions.Dec()
	return nil
}

// Get retrieves a session by id.
func (m *Manager) Get(sessionID string) (*models.Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return value.(*models.Session), nil
}

// List returns all sessions on this process, optionally filtered by status.
func (m *Manager) List(status models.SessionStatus) []*models.Session {
	var sessions []*models.Session
	m.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*models.Session)
		if status != "" && sess.Status != status {
			return true
		}
		sessions = append(sessions, sess)
		return true
	})
	return sessions
}

// handleTimeout ends the session when its maximum duration elapses.
func (m *Manager) handleTimeout(sess *models.Session) {
	timer := time.NewTimer(time.Until(sess.ExpiresAt))
	defer timer.Stop()

	<-timer.C

	current, err := m.Get(sess.ID)
	if err != nil || current.Status != models.StatusActive {
		return
	}

	log.Printf("session %s reached its timeout, ending it", sess.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.End(ctx, sess.ID); err != nil {
		log.Printf("ending timed out session %s: %v", sess.ID, err)
	}
}
