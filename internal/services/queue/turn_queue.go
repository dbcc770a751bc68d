package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/dialogue-engine/pkg/queue"
)

// TurnRequestsKey is the Redis list every worker consumes. Each entry is a
// slot name: one notice per enqueued request, pointing at that slot's own
// FIFO of requests.
const TurnRequestsKey = "turn-requests"

const claimKeyPrefix = "turn-claims:"

// SlotRequestsKey is the FIFO holding the pending requests of one slot.
func SlotRequestsKey(slot string) string {
	return TurnRequestsKey + ":" + slot
}

func claimKey(slot string) string {
	return claimKeyPrefix + slot
}

// nextScript pops the head of a slot's FIFO for the claim owner. With the
// FIFO empty it drops the claim instead, in the same step, so a request
// enqueued afterwards always finds the slot unclaimed.
var nextScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return -1
end
local v = redis.call("LPOP", KEYS[2])
if not v then
	redis.call("DEL", KEYS[1])
	return false
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return v
`)

// yieldScript drops the claim if still owned and posts a fresh notice when
// the slot has requests left.
var yieldScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
end
if redis.call("LLEN", KEYS[2]) > 0 then
	redis.call("RPUSH", KEYS[3], ARGV[2])
end
return 1
`)

// TurnQueue holds pending dialogue turns shared by all workers. Requests of
// one slot are only popped by the worker loop holding that slot's claim, so
// they are played in the order they were enqueued.
type TurnQueue struct {
	client *Client
	logger *slog.Logger
}

func NewTurnQueue(client *Client, logger *slog.Logger) *TurnQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnQueue{
		client: client,
		logger: logger,
	}
}

// Enqueue appends a request to its slot's FIFO and posts a notice.
func (q *TurnQueue) Enqueue(ctx context.Context, req *queue.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid turn request: %w", err)
	}
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	_, err = q.client.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, SlotRequestsKey(req.Slot), data)
		p.RPush(ctx, TurnRequestsKey, req.Slot)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to enqueue turn request",
			"error", err,
			"request_id", req.RequestID,
			"slot", req.Slot)
		return fmt.Errorf("failed to enqueue request: %w", err)
	}

	q.logger.Debug("Enqueued turn request",
		"request_id", req.RequestID,
		"slot", req.Slot)
	return nil
}

// NextSlot waits up to timeout for a notice and returns its slot. It
// returns "" when the timeout passes with nothing queued.
func (q *TurnQueue) NextSlot(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, TurnRequestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue slot notice: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return "", fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return result[1], nil
}

// Notify posts a notice for slot, handing it to whichever loop is free.
func (q *TurnQueue) Notify(ctx context.Context, slot string) error {
	if err := q.client.rdb.RPush(ctx, TurnRequestsKey, slot).Err(); err != nil {
		return fmt.Errorf("failed to post slot notice: %w", err)
	}
	return nil
}

// Claim makes owner the only consumer of slot's FIFO until it is released
// or ttl passes without a Next call.
func (q *TurnQueue) Claim(ctx context.Context, slot, owner string, ttl time.Duration) (bool, error) {
	ok, err := q.client.rdb.SetNX(ctx, claimKey(slot), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim slot: %w", err)
	}
	return ok, nil
}

// Next pops the oldest request of a claimed slot and extends the claim.
// When the FIFO is empty the claim is released and Next returns nil, nil.
func (q *TurnQueue) Next(ctx context.Context, slot, owner string, ttl time.Duration) (*queue.Request, error) {
	keys := []string{claimKey(slot), SlotRequestsKey(slot)}
	result, err := nextScript.Run(ctx, q.client.rdb, keys, owner, ttl.Milliseconds()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", queue.ErrClaimLost, slot)
	}
	req, err := queue.FromJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// PushFront returns a request to the head of its slot's FIFO, counting the
// retry. Only the claim owner should call it.
func (q *TurnQueue) PushFront(ctx context.Context, req *queue.Request) error {
	req.Requeues++
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.LPush(ctx, SlotRequestsKey(req.Slot), data).Err(); err != nil {
		return fmt.Errorf("failed to requeue request: %w", err)
	}
	return nil
}

// Yield gives up the claim on slot. If requests remain, a new notice is
// posted so another loop picks them up.
func (q *TurnQueue) Yield(ctx context.Context, slot, owner string) error {
	keys := []string{claimKey(slot), SlotRequestsKey(slot), TurnRequestsKey}
	if err := yieldScript.Run(ctx, q.client.rdb, keys, owner, slot).Err(); err != nil {
		return fmt.Errorf("failed to yield slot: %w", err)
	}
	return nil
}

// Pending lists the requests still waiting for slot, oldest first.
func (q *TurnQueue) Pending(ctx context.Context, slot string) ([]*queue.Request, error) {
	items, err := q.client.rdb.LRange(ctx, SlotRequestsKey(slot), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	out := make([]*queue.Request, 0, len(items))
	for _, item := range items {
		req, err := queue.FromJSON([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("failed to parse request: %w", err)
		}
		out = append(out, req)
	}
	return out, nil
}

// Depth returns the number of slot notices waiting. A loop that drains a
// slot leaves its extra notices behind, so this is an upper bound on the
// requests still to play.
func (q *TurnQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, TurnRequestsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get request queue depth: %w", err)
	}
	return int(count), nil
}
