package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/envelope"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeTurnQueued    EventType = "turn.queued"
	EventTypeTurnCommitted EventType = "turn.committed"
	EventTypeTurnFailed    EventType = "turn.failed"
)

// Event is one message on a slot's channel.
type Event struct {
	Type      EventType          `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Slot      string             `json:"slot"`
	Envelope  *envelope.Envelope `json:"envelope,omitempty"`
	Outcome   *dice.Outcome      `json:"outcome,omitempty"`
	Error     string             `json:"error,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
}

// Channel returns the pub/sub channel for a slot.
func Channel(slot string) string {
	return fmt.Sprintf("slot-events:%s", slot)
}

// Broadcaster publishes events to Redis Pub/Sub
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishTurnQueued publishes a turn.queued event
func (b *Broadcaster) PublishTurnQueued(ctx context.Context, slot, requestID string) error {
	return b.publishToSlot(ctx, Event{
		Type:      EventTypeTurnQueued,
		RequestID: requestID,
		Slot:      slot,
	})
}

// PublishTurnCommitted publishes a turn.committed event carrying the envelope
func (b *Broadcaster) PublishTurnCommitted(ctx context.Context, requestID string, env envelope.Envelope, outcome dice.Outcome) error {
	return b.publishToSlot(ctx, Event{
		Type:      EventTypeTurnCommitted,
		RequestID: requestID,
		Slot:      env.Slot,
		Envelope:  &env,
		Outcome:   &outcome,
	})
}

// PublishTurnFailed publishes a turn.failed event
func (b *Broadcaster) PublishTurnFailed(ctx context.Context, slot, requestID string, turnErr error, retryable bool) error {
	return b.publishToSlot(ctx, Event{
		Type:      EventTypeTurnFailed,
		RequestID: requestID,
		Slot:      slot,
		Error:     turnErr.Error(),
		Retryable: retryable,
	})
}

// publishToSlot publishes an event to the slot-specific channel
func (b *Broadcaster) publishToSlot(ctx context.Context, event Event) error {
	channel := Channel(event.Slot)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)

	return nil
}
