package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

type memoryRecord struct {
	version int64
	data    []byte
}

// MemoryStorage is an in-process Storage. Checkpoints are kept as JSON so
// callers never share memory with the store.
type MemoryStorage struct {
	mu        sync.Mutex
	records   map[string]memoryRecord
	leases    map[string]Lease
	pingError error
	now       func() time.Time
}

// Ensure MemoryStorage implements Storage interface
var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]memoryRecord),
		leases:  make(map[string]Lease),
		now:     time.Now,
	}
}

// SetPingError configures Ping to fail with err; nil restores success.
func (m *MemoryStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingError
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Load(ctx context.Context, slot string) (*state.SessionState, error) {
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}
	m.mu.Lock()
	rec, ok := m.records[slot]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slot)
	}

	var s state.SessionState
	if err := json.Unmarshal(rec.data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}
	return &s, nil
}

func (m *MemoryStorage) CompareAndSwap(ctx context.Context, slot string, expectedVersion int64, next *state.SessionState) error {
	if err := CheckNext(slot, expectedVersion, next); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[slot]
	current := int64(0)
	if exists {
		current = rec.version
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: slot %s is at version %d, expected %d", ErrVersionConflict, slot, current, expectedVersion)
	}

	written := *next
	written.CheckpointVersion = expectedVersion + 1
	data, err := json.Marshal(&written)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	m.records[slot] = memoryRecord{version: written.CheckpointVersion, data: data}
	next.CheckpointVersion = written.CheckpointVersion
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, slot string) error {
	if err := ValidateSlot(slot); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, slot)
	delete(m.leases, slot)
	return nil
}

func (m *MemoryStorage) ListSlots(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slots := make([]string, 0, len(m.records))
	for slot := range m.records {
		slots = append(slots, slot)
	}
	slices.Sort(slots)
	return slots, nil
}

func (m *MemoryStorage) Checkout(ctx context.Context, slot string, ttl time.Duration) (Lease, error) {
	if err := ValidateSlot(slot); err != nil {
		return Lease{}, err
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.leases[slot]; ok && now.Before(held.ExpiresAt) {
		return Lease{}, fmt.Errorf("%w: %s", ErrSlotBusy, slot)
	}
	lease := Lease{Slot: slot, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[slot] = lease
	return lease, nil
}

func (m *MemoryStorage) Release(ctx context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.leases[lease.Slot]
	if !ok || held.Token != lease.Token {
		return fmt.Errorf("%w: %s", ErrLeaseLost, lease.Slot)
	}
	delete(m.leases, lease.Slot)
	return nil
}
