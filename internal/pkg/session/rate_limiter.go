package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles sign-in attempts per ip and email.
type RateLimiter struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

func NewRateLimiter(client *redis.Client, maxAttempts int64, window time.Duration) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RateLimiter{client: client, maxAttempts: maxAttempts, window: window}
}

// CheckLoginAttempt records an attempt and reports whether it is allowed,
// plus how many attempts remain in the window.
func (r *RateLimiter) CheckLoginAttempt(ctx context.Context, ip, email string) (bool, int64, error) {
	key := r.loginKey(ip, email)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment login attempt: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, r.window)
	}

	remaining := r.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= r.maxAttempts, remaining, nil
}

// GetRemainingAttempts returns remaining login attempts
func (r *RateLimiter) GetRemainingAttempts(ctx context.Context, ip, email string) (int64, error) {
	count, err := r.client.Get(ctx, r.loginKey(ip, email)).Int64()
	if errors.Is(err, redis.Nil) {
		return r.maxAttempts, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get login attempts: %w", err)
	}

	remaining := r.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// ResetLoginAttempts resets the login attempt counter
func (r *RateLimiter) ResetLoginAttempts(ctx context.Context, ip, email string) error {
	return r.client.Del(ctx, r.loginKey(ip, email)).Err()
}

func (r *RateLimiter) loginKey(ip, email string) string {
	return fmt.Sprintf("ratelimit:login:%s:%s", ip, email)
}
