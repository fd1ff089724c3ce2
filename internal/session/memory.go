package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node setups. The
// mutex gives Rotate the same one-winner guarantee as the Redis script.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryStore constructs an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source, for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Save writes the session.
func (s *MemoryStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// Rotate swaps the secret hash when the provided hash matches.
func (s *MemoryStore) Rotate(_ context.Context, sessionID, providedHash, nextHash string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || s.now().After(sess.ExpiresAt) {
		delete(s.sessions, sessionID)
		return nil, ErrSessionExpired
	}
	if sess.Revoked() || sess.SecretHash != providedHash {
		out := sess
		return &out, ErrTokenReuseDetected
	}
	sess.SecretHash = nextHash
	s.sessions[sessionID] = sess
	out := sess
	return &out, nil
}

// Get loads a session by id.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || s.now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	out := sess
	return &out, nil
}

// Revoke tombstones a single session until its TTL. Unknown ids are a
// no-op.
func (s *MemoryStore) Revoke(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Revoked() {
		return nil
	}
	sess.RevokedAt = s.now()
	s.sessions[sessionID] = sess
	return nil
}

// DeleteAllForPrincipal removes every session of the principal.
func (s *MemoryStore) DeleteAllForPrincipal(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			delete(s.sessions, id)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
