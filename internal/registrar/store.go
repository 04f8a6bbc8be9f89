package registrar

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/frontdesk/pkg/types"
)

// Store persists customer sessions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new session. Returns an error if the id exists.
	Create(ctx context.Context, sess *types.CustomerSession) error

	// Upsert creates or replaces a session.
	Upsert(ctx context.Context, sess *types.CustomerSession) error

	// Get retrieves a session by id. Returns (nil, nil) if not found.
	Get(ctx context.Context, sessionID string) (*types.CustomerSession, error)

	// FindByPhone returns the most recently started session for phone.
	// Returns (nil, nil) if none exists.
	FindByPhone(ctx context.Context, phone string) (*types.CustomerSession, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// MemStore is an in-process [Store]. Records live as long as the process.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]types.CustomerSession
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]types.CustomerSession)}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, sess *types.CustomerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.SessionID]; ok {
		return fmt.Errorf("registrar: session %q already exists", sess.SessionID)
	}
	s.sessions[sess.SessionID] = *sess
	return nil
}

// Upsert implements [Store].
func (s *MemStore) Upsert(_ context.Context, sess *types.CustomerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = *sess
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, sessionID string) (*types.CustomerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// FindByPhone implements [Store].
func (s *MemStore) FindByPhone(_ context.Context, phone string) (*types.CustomerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *types.CustomerSession
	for _, sess := range s.sessions {
		if sess.CustomerPhone != phone {
			continue
		}
		if best == nil || sess.StartTime.After(best.StartTime) {
			cp := sess
			best = &cp
		}
	}
	return best, nil
}

// Ping implements [Store]. Always nil.
func (s *MemStore) Ping(context.Context) error { return nil }

// Len returns the number of stored sessions.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
