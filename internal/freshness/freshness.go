// Package freshness decides whether an article fingerprint was processed
// recently enough that re-extracting it would waste an LLM call. The Redis
// cache is shared by every consumer instance; the store-backed check is the
// fallback when no Redis is configured.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

// DefaultWindow is how long a processed fingerprint stays fresh.
const DefaultWindow = 6 * time.Hour

const keyPrefix = "conflictwatch:fresh:"

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Redis keeps one expiring key per processed fingerprint.
type Redis struct {
	client *redis.Client
	window time.Duration
}

// NewRedis creates a Redis-backed freshness cache.
func NewRedis(client *redis.Client, window time.Duration) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, window: window}
}

// Fresh reports whether fingerprint was marked within the window.
func (r *Redis) Fresh(ctx context.Context, fingerprint string) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis exists: %w", event.ErrTransient, err)
	}
	return n > 0, nil
}

// Mark records fingerprint as processed now.
func (r *Redis) Mark(ctx context.Context, fingerprint string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := r.client.Set(ctx, keyPrefix+fingerprint, stamp, r.window).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %w", event.ErrTransient, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Store answers freshness from the stored event's parsed_at.
type Store struct {
	store  event.Store
	window time.Duration
	now    func() time.Time
}

// NewStore creates a store-backed freshness check.
func NewStore(store event.Store, window time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{store: store, window: window, now: time.Now}
}

// Fresh reports whether an event with fingerprint was parsed within the window.
func (s *Store) Fresh(ctx context.Context, fingerprint string) (bool, error) {
	e, ok, err := s.store.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, event.ErrTransient) {
			return false, fmt.Errorf("store lookup: %w", err)
		}
		return false, fmt.Errorf("%w: store lookup: %w", event.ErrTransient, err)
	}
	return ok && s.now().Sub(e.ParsedAt) < s.window, nil
}

// Mark is a no-op: the upsert itself records parsed_at.
func (s *Store) Mark(context.Context, string) error { return nil }
