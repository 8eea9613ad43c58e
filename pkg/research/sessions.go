package research

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session handles.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionRunning is returned when a result is requested before the
// session reached a terminal state.
var ErrSessionRunning = errors.New("session still running")

// Session is the handle for one end-to-end research request. It owns its
// controller; sessions share no mutable state with each other.
type Session struct {
	ID    uuid.UUID `json:"id"`
	Topic string    `json:"topic"`

	controller *Controller

	mu     sync.RWMutex
	status Status
	result *Result
	err    error
	done   chan struct{}
}

// Status returns the session's last observed loop status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Result returns the terminal result. Before the loop finishes it returns
// ErrSessionRunning; after a fatal configuration error it returns that
// error.
func (s *Session) Result() (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil && s.err == nil {
		return nil, ErrSessionRunning
	}
	return s.result, s.err
}

// Wait blocks until the session terminates or the context is cancelled.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionManager is the arena owning all live sessions, keyed by handle.
// The documented deployment model is stateless and horizontally scalable:
// the arena holds per-process state only, with persistence delegated to
// the external checkpoint collaborator.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewSessionManager returns an empty arena.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[uuid.UUID]*Session)}
}

// Start registers a new session and runs its controller loop in the
// background. The controller must not be shared across sessions.
func (m *SessionManager) Start(ctx context.Context, topic string, controller *Controller) *Session {
	return m.launch(topic, controller, func() (*Result, error) {
		return controller.Run(ctx, topic)
	})
}

// Resume registers a session that continues from a persisted snapshot
// instead of starting the loop from scratch.
func (m *SessionManager) Resume(ctx context.Context, snap Snapshot, controller *Controller) *Session {
	return m.launch(snap.Topic, controller, func() (*Result, error) {
		return controller.Resume(ctx, snap)
	})
}

func (m *SessionManager) launch(topic string, controller *Controller, run func() (*Result, error)) *Session {
	s := &Session{
		ID:         uuid.New(),
		Topic:      topic,
		controller: controller,
		status:     Status{Phase: PhaseIdle},
		done:       make(chan struct{}),
	}

	controller.OnStateUpdate = func(st Status) {
		s.mu.Lock()
		s.status = st
		s.mu.Unlock()
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go func() {
		result, err := run()
		s.mu.Lock()
		s.result = result
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()

	return s
}

// Get looks up a session by handle.
func (m *SessionManager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops a terminated session from the arena.
func (m *SessionManager) Remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
