package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRepository stores refresh tokens in Redis keyed by user. Rotation
// overwrites the stored value, revocation deletes it; a single active refresh
// token exists per user at any time.
type TokenRepository struct {
	client *redis.Client
}

// NewTokenRepository constructs the repository.
func NewTokenRepository(client *redis.Client) *TokenRepository {
	return &TokenRepository{client: client}
}

func refreshTokenKey(userID string) string {
	return "refresh_token:" + userID
}

// Store saves the refresh token for the user with the given TTL, replacing
// any previously issued token.
func (r *TokenRepository) Store(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, refreshTokenKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// Get returns the currently active refresh token for the user, or "" when none
// is stored.
func (r *TokenRepository) Get(ctx context.Context, userID string) (string, error) {
	token, err := r.client.Get(ctx, refreshTokenKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	return token, nil
}

// Revoke deletes the stored refresh token for the user.
func (r *TokenRepository) Revoke(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, refreshTokenKey(userID)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
