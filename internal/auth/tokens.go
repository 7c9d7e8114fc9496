package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sitewise-erp/sitewise/internal/shared"
)

const tokenPrefix = "auth:token:"

// TokenStore keeps opaque bearer tokens in Redis. Tokens expire server-side
// after the configured TTL; logout revokes them immediately.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore returns a TokenStore with the given token lifetime.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenStore{client: client, ttl: ttl}
}

// Issue mints a new token for the identity.
func (s *TokenStore) Issue(ctx context.Context, identity shared.Identity) (string, error) {
	payload, err := json.Marshal(identity)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	if err := s.client.Set(ctx, tokenPrefix+token, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Resolve maps a presented token back to the identity it was issued for.
func (s *TokenStore) Resolve(ctx context.Context, token string) (shared.Identity, error) {
	if token == "" {
		return shared.Identity{}, shared.ErrUnauthenticated
	}
	payload, err := s.client.Get(ctx, tokenPrefix+token).Bytes()
	if err == redis.Nil {
		return shared.Identity{}, shared.ErrUnauthenticated
	}
	if err != nil {
		return shared.Identity{}, err
	}
	var identity shared.Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return shared.Identity{}, shared.ErrUnauthenticated
	}
	return identity, nil
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.client.Del(ctx, tokenPrefix+token).Err()
}
