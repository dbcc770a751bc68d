package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/envelope"
)

func setup(t *testing.T) (*Broadcaster, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewBroadcaster(rdb, logger), rdb
}

func receive(t *testing.T, sub *redis.PubSub) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	return ev
}

func TestBroadcaster_TurnCommitted(t *testing.T) {
	b, rdb := setup(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, Channel("save1"))
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	env := envelope.Envelope{
		Slot:               "save1",
		TurnID:             "save1#3",
		CheckpointVersion:  4,
		ForbiddenTopics:    []string{"relic"},
		ToneDirective:      envelope.ToneGuarded,
		ForcedOverrideText: "Not for strangers.",
	}
	outcome := dice.Evaluate(dice.CheckPersuade, 7, nil, 12)
	require.NoError(t, b.PublishTurnCommitted(ctx, "req-1", env, outcome))

	ev := receive(t, sub)
	assert.Equal(t, EventTypeTurnCommitted, ev.Type)
	assert.Equal(t, "req-1", ev.RequestID)
	require.NotNil(t, ev.Envelope)
	assert.Equal(t, env.ForcedOverrideText, ev.Envelope.ForcedOverrideText)
	assert.Equal(t, int64(4), ev.Envelope.CheckpointVersion)
	require.NotNil(t, ev.Outcome)
	assert.Equal(t, dice.Fail, ev.Outcome.Degree)
}

func TestBroadcaster_TurnFailed(t *testing.T) {
	b, rdb := setup(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, Channel("save2"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.PublishTurnFailed(ctx, "save2", "req-9", errors.New("classifier down"), true))

	ev := receive(t, sub)
	assert.Equal(t, EventTypeTurnFailed, ev.Type)
	assert.Equal(t, "save2", ev.Slot)
	assert.Equal(t, "classifier down", ev.Error)
	assert.True(t, ev.Retryable)
	assert.Nil(t, ev.Envelope)
}

func TestBroadcaster_TurnQueued(t *testing.T) {
	b, rdb := setup(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, Channel("save3"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.PublishTurnQueued(ctx, "save3", "req-2"))
	ev := receive(t, sub)
	assert.Equal(t, EventTypeTurnQueued, ev.Type)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "slot-events:abc", Channel("abc"))
}
