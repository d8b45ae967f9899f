package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/redis/go-redis/v9"
)

// RedisMirror stores the latest snapshot as JSON under a single key.
type RedisMirror struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ Mirror = (*RedisMirror)(nil)

// NewRedisMirror returns a RedisMirror writing key with ttl (0 for none).
func NewRedisMirror(client *redis.Client, key string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, key: key, ttl: ttl}
}

// Mirror implements Mirror.
func (r *RedisMirror) Mirror(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", r.key, err)
	}
	return nil
}

// Load returns the mirrored snapshot and false if there is none.
func (r *RedisMirror) Load(ctx context.Context) (Snapshot, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to get %s: %w", r.key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Close closes the redis client.
func (r *RedisMirror) Close() error {
	return r.client.Close()
}

// Configured sets up the Bus and, when a redis address is given, its mirror.
func Configured() *Bus {
	addr := lflag.String("redis-addr", "", "Redis address (host:port) to mirror state snapshots to; empty disables mirroring")
	password := lflag.String("redis-password", "", "Redis password")
	db := lflag.Int("redis-db", 0, "Redis database number")
	key := lflag.String("redis-snapshot-key", "homeplug:snapshot", "Redis key holding the latest snapshot")
	ttl := lflag.Duration("redis-snapshot-ttl", 10*time.Minute, "Expiry of the mirrored snapshot")

	b := New()

	lflag.Do(func() {
		if *addr == "" {
			return
		}
		client := redis.NewClient(&redis.Options{
			Addr:     *addr,
			Password: *password,
			DB:       *db,
		})

		// Test connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			panic(fmt.Sprintf("failed to connect to redis: %v", err))
		}
		b.SetMirror(NewRedisMirror(client, *key, *ttl))
	})

	return b
}
