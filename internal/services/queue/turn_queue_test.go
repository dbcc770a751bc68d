package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/queue"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	// Start miniredis
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	// Create queue client
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	redisURL := "redis://" + mr.Addr()

	client, err := NewClient(redisURL, logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}

	return client, mr
}

func TestTurnQueue_NoticesAndFIFO(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client, nil)
	ctx := context.Background()

	first := queue.NewRequest("save1", "Hello there", nil)
	second := queue.NewRequest("save2", "Tell me of the relic", &intent.Classification{Action: "ask", Topic: "relic", IsProbingSecret: true})
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	slot, err := q.NextSlot(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "save1", slot)

	claimed, err := q.Claim(ctx, slot, "w/0", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := q.Next(ctx, slot, "w/0", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.RequestID, got.RequestID)
	assert.Nil(t, got.Classification)

	got, err = q.Next(ctx, slot, "w/0", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got, "drained slot returns nil")
	assert.False(t, mr.Exists(claimKey("save1")), "draining releases the claim")

	slot, err = q.NextSlot(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "save2", slot)
	pending, err := q.Pending(ctx, "save2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Classification)
	assert.True(t, pending[0].Classification.IsProbingSecret)

	slot, err = q.NextSlot(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, slot, "timeout with no notices")
}

func TestTurnQueue_PushFrontKeepsSlotOrder(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client, nil)
	ctx := context.Background()

	second := queue.NewRequest("save1", "second", nil)
	third := queue.NewRequest("save1", "third", nil)
	require.NoError(t, q.Enqueue(ctx, second))
	require.NoError(t, q.Enqueue(ctx, third))

	claimed, err := q.Claim(ctx, "save1", "w/0", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := q.Next(ctx, "save1", "w/0", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "second", got.Utterance)

	// the slot was busy; put it back and let go of the slot
	require.NoError(t, q.PushFront(ctx, got))
	require.NoError(t, q.Yield(ctx, "save1", "w/0"))

	claimed, err = q.Claim(ctx, "save1", "w/1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err = q.Next(ctx, "save1", "w/1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Utterance)
	assert.Equal(t, 1, got.Requeues)

	got, err = q.Next(ctx, "save1", "w/1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "third", got.Utterance)
}

func TestTurnQueue_ClaimIsExclusive(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.NewRequest("save1", "Hello", nil)))

	claimed, err := q.Claim(ctx, "save1", "w/0", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = q.Claim(ctx, "save1", "w/1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = q.Next(ctx, "save1", "w/1", time.Minute)
	assert.ErrorIs(t, err, queue.ErrClaimLost)

	// an expired claim frees the slot
	mr.FastForward(2 * time.Minute)
	claimed, err = q.Claim(ctx, "save1", "w/1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestTurnQueue_YieldReposts(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, queue.NewRequest("save1", "Hello", nil)))

	slot, err := q.NextSlot(ctx, time.Second)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, slot, "w/0", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, q.Yield(ctx, slot, "w/0"))
	assert.False(t, mr.Exists(claimKey(slot)))

	slot, err = q.NextSlot(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "save1", slot, "work left behind gets a new notice")

	// nothing left: no notice
	claimed, err = q.Claim(ctx, slot, "w/0", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = q.Next(ctx, slot, "w/0", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Yield(ctx, slot, "w/0"))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestTurnQueue_RejectsInvalid(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewTurnQueue(client, nil)
	err := q.Enqueue(context.Background(), &queue.Request{RequestID: "x"})
	assert.Error(t, err)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestTurnQueue_CorruptEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	_, err := mr.Lpush(SlotRequestsKey("save1"), "not json")
	require.NoError(t, err)

	q := NewTurnQueue(client, nil)
	ctx := context.Background()
	claimed, err := q.Claim(ctx, "save1", "w/0", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = q.Next(ctx, "save1", "w/0", time.Minute)
	assert.Error(t, err)
}

func TestNewClient_BadURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	_, err := NewClient("://nope", logger)
	assert.Error(t, err)
}
