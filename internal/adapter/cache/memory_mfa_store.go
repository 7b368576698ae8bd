package cache

import (
	"context"
	"sync"
	"time"

	"github.com/keystonehq/identity/internal/repository"
)

// MemoryMfaStore is the in-process fallback used when Redis is not
// configured. State is lost on restart, which only forces an affected
// user to re-enter their password.
type MemoryMfaStore struct {
	mu     sync.Mutex
	states map[string]memoryEntry
}

type memoryEntry struct {
	state    repository.PendingLogin
	deadline time.Time
}

var _ repository.MfaStateStore = (*MemoryMfaStore)(nil)

// NewMemoryMfaStore constructs an empty in-memory MFA state store.
func NewMemoryMfaStore() *MemoryMfaStore {
	return &MemoryMfaStore{states: make(map[string]memoryEntry)}
}

// Put stores the pending login keyed by temp token with TTL.
func (s *MemoryMfaStore) Put(ctx context.Context, tempToken string, state repository.PendingLogin, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[tempToken] = memoryEntry{state: state, deadline: time.Now().Add(ttl)}
	s.sweepLocked()
	return nil
}

// Consume fetches and deletes the pending login. Expired entries count as
// absent.
func (s *MemoryMfaStore) Consume(ctx context.Context, tempToken string) (repository.PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[tempToken]
	if !ok {
		return repository.PendingLogin{}, repository.ErrNotFound
	}
	delete(s.states, tempToken)
	if time.Now().After(entry.deadline) {
		return repository.PendingLogin{}, repository.ErrNotFound
	}
	return entry.state, nil
}

func (s *MemoryMfaStore) sweepLocked() {
	now := time.Now()
	for token, entry := range s.states {
		if now.After(entry.deadline) {
			delete(s.states, token)
		}
	}
}
