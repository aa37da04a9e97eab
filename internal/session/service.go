package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/event"
)

// Sentinel errors returned by Service implementations.
var (
	ErrNotFound = errors.New("session: not found")
	ErrExists   = errors.New("session: already exists")
)

// Service is the session store the pipeline runner and stream bridge consume.
// Persistence semantics (in-memory vs durable) are an implementation choice
// and must not change the ordering and merge contracts documented on Session.
//
// Methods returning a *Session return a point-in-time snapshot: callers may
// read it freely while writes continue, and later writes are not visible
// through it. Event pointers are shared; events are immutable once produced.
type Service interface {
	// Get returns a snapshot of the session for key, or ErrNotFound.
	Get(ctx context.Context, key Key) (*Session, error)

	// Create creates an empty session for key, or ErrExists.
	Create(ctx context.Context, key Key) (*Session, error)

	// GetOrCreate returns a snapshot of the session for key, creating it on
	// first use.
	GetOrCreate(ctx context.Context, key Key) (*Session, error)

	// AppendEvent appends ev to the session's event log.
	AppendEvent(ctx context.Context, key Key, ev *event.Event) error

	// MergeState merges delta into the session state, last-write-wins per key.
	MergeState(ctx context.Context, key Key, delta map[string]any) error

	// StateValue reads one state key. The second return reports presence.
	StateValue(ctx context.Context, key Key, stateKey string) (any, bool, error)
}

// InMemoryService keeps sessions for the process lifetime. It never deletes
// sessions. Reads hand out snapshots so an HTTP read during a concurrent run
// never aliases the slice the runner is appending to; concurrent runs
// against the same session are still not coordinated here (callers serialize
// at the request-entry layer when they need that).
type InMemoryService struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
}

// NewInMemoryService creates an empty in-memory session store.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{sessions: make(map[Key]*Session)}
}

// snapshot copies a session for handing outside the lock. Callers must hold
// at least the read lock.
func snapshot(sess *Session) *Session {
	return &Session{
		Key:       sess.Key,
		State:     maps.Clone(sess.State),
		Events:    slices.Clone(sess.Events),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

// Get implements Service.
func (s *InMemoryService) Get(_ context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(sess), nil
}

// Create implements Service.
func (s *InMemoryService) Create(_ context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; ok {
		return nil, ErrExists
	}
	now := time.Now().UTC()
	sess := &Session{
		Key:       key,
		State:     make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[key] = sess
	return snapshot(sess), nil
}

// GetOrCreate implements Service.
func (s *InMemoryService) GetOrCreate(_ context.Context, key Key) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return snapshot(sess), nil
	}
	now := time.Now().UTC()
	sess := &Session{
		Key:       key,
		State:     make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[key] = sess
	return snapshot(sess), nil
}

// AppendEvent implements Service.
func (s *InMemoryService) AppendEvent(_ context.Context, key Key, ev *event.Event) error {
	if ev == nil {
		return errors.New("session: event is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}
	sess.Events = append(sess.Events, ev)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// MergeState implements Service.
func (s *InMemoryService) MergeState(_ context.Context, key Key, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}
	for k, v := range delta {
		sess.State[k] = v
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// StateValue implements Service.
func (s *InMemoryService) StateValue(_ context.Context, key Key, stateKey string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, false, ErrNotFound
	}
	v, present := sess.State[stateKey]
	return v, present, nil
}
