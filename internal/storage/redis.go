package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
)

const (
	sessionKeyPrefix = "session:"
	leaseKeyPrefix   = "slot-lease:"
	slotIndexKey     = "sessions"
)

// casScript writes the new checkpoint only when the stored version matches.
// A missing hash counts as version 0.
var casScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur then cur = '0' end
if cur ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'state', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

// releaseScript deletes a lease only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisStorage keeps each slot as a hash {version, state} and guards turns
// with SETNX leases.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance. redisURL may be a
// redis:// URL or a bare host:port.
func NewRedisStorage(redisURL string, logger *slog.Logger) (*RedisStorage, error) {
	opt := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opt = parsed
	}
	return NewRedisStorageFromClient(redis.NewClient(opt), logger), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, logger *slog.Logger) *RedisStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStorage{client: client, logger: logger}
}

// Client returns the underlying Redis client so the queue and event
// broadcaster can share the connection pool.
func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Checkpoint operations

func (r *RedisStorage) Load(ctx context.Context, slot string) (*state.SessionState, error) {
	if err := storage.ValidateSlot(slot); err != nil {
		return nil, err
	}

	vals, err := r.client.HMGet(ctx, sessionKeyPrefix+slot, "version", "state").Result()
	if err != nil {
		r.logger.Error("Failed to load session", "slot", slot, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	data, ok := vals[1].(string)
	if !ok || data == "" {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, slot)
	}

	var s state.SessionState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		r.logger.Error("Failed to unmarshal session", "slot", slot, "error", err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if v, ok := vals[0].(string); ok {
		var version int64
		if _, err := fmt.Sscan(v, &version); err == nil {
			s.CheckpointVersion = version
		}
	}
	return &s, nil
}

func (r *RedisStorage) CompareAndSwap(ctx context.Context, slot string, expectedVersion int64, next *state.SessionState) error {
	if err := storage.CheckNext(slot, expectedVersion, next); err != nil {
		return err
	}

	written := *next
	written.CheckpointVersion = expectedVersion + 1
	data, err := json.Marshal(&written)
	if err != nil {
		r.logger.Error("Failed to marshal session", "slot", slot, "error", err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := casScript.Run(ctx, r.client,
		[]string{sessionKeyPrefix + slot, slotIndexKey},
		expectedVersion, written.CheckpointVersion, string(data), slot,
	).Int()
	if err != nil {
		r.logger.Error("Failed to save session", "slot", slot, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: slot %s is not at version %d", storage.ErrVersionConflict, slot, expectedVersion)
	}

	next.CheckpointVersion = written.CheckpointVersion
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, slot string) error {
	if err := storage.ValidateSlot(slot); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+slot, leaseKeyPrefix+slot)
		pipe.SRem(ctx, slotIndexKey, slot)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete session", "slot", slot, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStorage) ListSlots(ctx context.Context) ([]string, error) {
	slots, err := r.client.SMembers(ctx, slotIndexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	slices.Sort(slots)
	return slots, nil
}

// Lease operations

func (r *RedisStorage) Checkout(ctx context.Context, slot string, ttl time.Duration) (storage.Lease, error) {
	if err := storage.ValidateSlot(slot); err != nil {
		return storage.Lease{}, err
	}
	if ttl <= 0 {
		ttl = storage.DefaultLeaseTTL
	}

	token := uuid.NewString()
	acquired, err := r.client.SetNX(ctx, leaseKeyPrefix+slot, token, ttl).Result()
	if err != nil {
		r.logger.Error("Failed to acquire slot lease", "slot", slot, "error", err)
		return storage.Lease{}, fmt.Errorf("failed to acquire slot lease: %w", err)
	}
	if !acquired {
		return storage.Lease{}, fmt.Errorf("%w: %s", storage.ErrSlotBusy, slot)
	}
	return storage.Lease{Slot: slot, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (r *RedisStorage) Release(ctx context.Context, lease storage.Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{leaseKeyPrefix + lease.Slot}, lease.Token).Int()
	if err != nil {
		r.logger.Error("Failed to release slot lease", "slot", lease.Slot, "error", err)
		return fmt.Errorf("failed to release slot lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrLeaseLost, lease.Slot)
	}
	return nil
}
