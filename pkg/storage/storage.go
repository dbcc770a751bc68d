package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

var (
	ErrNotFound        = errors.New("slot not found")
	ErrVersionConflict = errors.New("checkpoint version conflict")
	ErrInvalidSlot     = errors.New("invalid slot key")
	ErrSlotBusy        = errors.New("slot is checked out by another turn")
	ErrLeaseLost       = errors.New("slot lease expired or taken over")
)

// DefaultLeaseTTL bounds how long a crashed turn can keep a slot checked out.
const DefaultLeaseTTL = 30 * time.Second

var slotPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateSlot checks that a slot key is safe to use as a storage key.
func ValidateSlot(slot string) error {
	if !slotPattern.MatchString(slot) {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// Lease is an exclusive, expiring claim on one slot.
type Lease struct {
	Slot      string    `json:"slot"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Storage persists session checkpoints, one per save slot.
//
// CompareAndSwap writes next only if the slot's current checkpoint version
// equals expectedVersion; expectedVersion 0 means the slot must not exist
// yet. On success next.CheckpointVersion is set to expectedVersion+1. Every
// write is a single atomic operation, so readers see either the prior or
// the new checkpoint.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Checkpoints
	Load(ctx context.Context, slot string) (*state.SessionState, error)
	CompareAndSwap(ctx context.Context, slot string, expectedVersion int64, next *state.SessionState) error
	Delete(ctx context.Context, slot string) error
	ListSlots(ctx context.Context) ([]string, error)

	// Per-slot turn ownership
	Checkout(ctx context.Context, slot string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}

// CheckNext validates the arguments shared by every CompareAndSwap
// implementation.
func CheckNext(slot string, expectedVersion int64, next *state.SessionState) error {
	if err := ValidateSlot(slot); err != nil {
		return err
	}
	if next == nil {
		return errors.New("session state cannot be nil")
	}
	if next.Slot != slot {
		return fmt.Errorf("session state belongs to slot %q, not %q", next.Slot, slot)
	}
	if expectedVersion < 0 {
		return fmt.Errorf("expected version %d is negative", expectedVersion)
	}
	return nil
}
