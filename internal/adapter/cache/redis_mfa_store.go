package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keystonehq/identity/internal/repository"
)

const mfaKeyPrefix = "mfa:pending:"

// RedisMfaStore holds pending step-up login state in Redis.
type RedisMfaStore struct {
	client redis.UniversalClient
}

var _ repository.MfaStateStore = (*RedisMfaStore)(nil)

// NewRedisMfaStore constructs a Redis-backed MFA state store.
func NewRedisMfaStore(client redis.UniversalClient) *RedisMfaStore {
	return &RedisMfaStore{client: client}
}

// Put stores the pending login keyed by temp token with TTL.
func (s *RedisMfaStore) Put(ctx context.Context, tempToken string, state repository.PendingLogin, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal pending login: %w", err)
	}
	if err := s.client.Set(ctx, mfaKeyPrefix+tempToken, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist pending login: %w", err)
	}
	return nil
}

// Consume atomically fetches and deletes the pending login so a temp
// token cannot be replayed.
func (s *RedisMfaStore) Consume(ctx context.Context, tempToken string) (repository.PendingLogin, error) {
	bytes, err := s.client.GetDel(ctx, mfaKeyPrefix+tempToken).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return repository.PendingLogin{}, repository.ErrNotFound
		}
		return repository.PendingLogin{}, fmt.Errorf("load pending login: %w", err)
	}
	var state repository.PendingLogin
	if err := json.Unmarshal(bytes, &state); err != nil {
		return repository.PendingLogin{}, fmt.Errorf("decode pending login: %w", err)
	}
	return state, nil
}
