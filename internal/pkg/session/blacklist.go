package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records signed-out identity credentials by jti until they would
// have expired anyway.
type Blacklist struct {
	client *redis.Client
}

func NewBlacklist(client *redis.Client) *Blacklist {
	return &Blacklist{client: client}
}

// IsTokenBlacklisted checks if a token is blacklisted
func (b *Blacklist) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}

// BlacklistToken adds a token to the blacklist. Already expired credentials
// need no entry.
func (b *Blacklist) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, b.key(jti), "1", ttl).Err()
}

func (b *Blacklist) key(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}
