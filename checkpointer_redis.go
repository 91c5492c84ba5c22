package sopflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCheckpointerOptions configures a RedisCheckpointer.
type RedisCheckpointerOptions struct {
	// KeyPrefix namespaces checkpoint keys. Defaults to "sopflow:checkpoints".
	KeyPrefix string

	// MaxHistory bounds how many snapshots are retained per session.
	// Defaults to 20.
	MaxHistory int

	// TTL expires a session's checkpoint list after inactivity.
	// Defaults to 24h.
	TTL time.Duration
}

// RedisCheckpointer stores checkpoints in a per-session Redis list, newest
// first, trimmed to a bounded history and expired after inactivity.
type RedisCheckpointer struct {
	client     *redis.Client
	keyPrefix  string
	maxHistory int
	ttl        time.Duration
}

// NewRedisCheckpointer creates a checkpointer backed by the given client.
func NewRedisCheckpointer(client *redis.Client, opts RedisCheckpointerOptions) (*RedisCheckpointer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "sopflow:checkpoints"
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 20
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &RedisCheckpointer{
		client:     client,
		keyPrefix:  opts.KeyPrefix,
		maxHistory: opts.MaxHistory,
		ttl:        opts.TTL,
	}, nil
}

func (c *RedisCheckpointer) key(sessionID string) string {
	return c.keyPrefix + ":" + sessionID
}

// SaveCheckpoint pushes the snapshot onto the session's list.
func (c *RedisCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := c.key(checkpoint.SessionID)
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(c.maxHistory-1))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the newest checkpoint for a session, or nil.
func (c *RedisCheckpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	data, err := c.client.LIndex(ctx, c.key(sessionID), 0).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if checkpoint.Version > CheckpointVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d",
			checkpoint.Version, CheckpointVersion)
	}
	return &checkpoint, nil
}

// DeleteCheckpoints removes the session's checkpoint list.
func (c *RedisCheckpointer) DeleteCheckpoints(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
