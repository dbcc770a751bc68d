// Package storagetest holds the behaviour every storage.Storage backend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Storage

// Run exercises the shared contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"LoadMissing", testLoadMissing},
		{"CreateAndLoad", testCreateAndLoad},
		{"VersionConflict", testVersionConflict},
		{"ConcurrentCompareAndSwap", testConcurrentCAS},
		{"InvalidSlot", testInvalidSlot},
		{"ListAndDelete", testListAndDelete},
		{"Leases", testLeases},
		{"Ping", func(t *testing.T, s storage.Storage) { assert.NoError(t, s.Ping(context.Background())) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func sampleState(slot string) *state.SessionState {
	s := state.NewSessionState(slot, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))
	s.Relationship = 12
	_ = s.SetFlag(state.FlagArtifactShown, true)
	s.InventoryKnowledge["silver_amulet"] = state.Perception{Seen: true, LastTurn: 1}
	s.AppendJournal(state.JournalEntry{
		Timestamp: s.CreatedAt,
		TurnID:    slot + "#1",
		Turn:      1,
		Action:    "give-item",
		Topic:     "silver_amulet",
		Degree:    "success",
		Summary:   "no check [success]",
		Notes:     []string{"gift received: silver_amulet"},
	})
	s.TurnCounter = 1
	return s
}

func testLoadMissing(t *testing.T, s storage.Storage) {
	_, err := s.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCreateAndLoad(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	want := sampleState("save-1")

	require.NoError(t, s.CompareAndSwap(ctx, "save-1", 0, want))
	assert.Equal(t, int64(1), want.CheckpointVersion)

	got, err := s.Load(ctx, "save-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("loaded state mismatch (-want +got):\n%s", diff)
	}

	got.Relationship = 20
	require.NoError(t, s.CompareAndSwap(ctx, "save-1", 1, got))
	assert.Equal(t, int64(2), got.CheckpointVersion)

	again, err := s.Load(ctx, "save-1")
	require.NoError(t, err)
	assert.Equal(t, 20, again.Relationship)
	assert.Equal(t, int64(2), again.CheckpointVersion)
}

func testVersionConflict(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CompareAndSwap(ctx, "save-2", 0, sampleState("save-2")))

	// creating again
	err := s.CompareAndSwap(ctx, "save-2", 0, sampleState("save-2"))
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	// stale version
	next := sampleState("save-2")
	next.Relationship = -40
	require.NoError(t, s.CompareAndSwap(ctx, "save-2", 1, next))
	stale := sampleState("save-2")
	stale.Relationship = 99
	err = s.CompareAndSwap(ctx, "save-2", 1, stale)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	got, err := s.Load(ctx, "save-2")
	require.NoError(t, err)
	assert.Equal(t, -40, got.Relationship, "a rejected write must leave the checkpoint untouched")

	// writing to a slot that does not exist yet with a non-zero version
	err = s.CompareAndSwap(ctx, "save-3", 4, sampleState("save-3"))
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	// state for another slot
	err = s.CompareAndSwap(ctx, "save-2", 2, sampleState("other"))
	assert.Error(t, err)
}

func testConcurrentCAS(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CompareAndSwap(ctx, "race", 0, sampleState("race")))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := sampleState("race")
			next.Relationship = i
			err := s.CompareAndSwap(ctx, "race", 1, next)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("writer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one writer may win")
	assert.Equal(t, writers-1, conflicts)

	got, err := s.Load(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CheckpointVersion)
}

func testInvalidSlot(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for _, slot := range []string{"", "has space", "semi;colon", "slash/slot", fmt.Sprintf("%065d", 0)} {
		_, err := s.Load(ctx, slot)
		assert.ErrorIs(t, err, storage.ErrInvalidSlot, "Load(%q)", slot)
		_, err = s.Checkout(ctx, slot, time.Second)
		assert.ErrorIs(t, err, storage.ErrInvalidSlot, "Checkout(%q)", slot)
	}
}

func testListAndDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for _, slot := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, s.CompareAndSwap(ctx, slot, 0, sampleState(slot)))
	}

	slots, err := s.ListSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, slots)

	require.NoError(t, s.Delete(ctx, "bravo"))
	_, err = s.Load(ctx, "bravo")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	slots, err = s.ListSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "charlie"}, slots)

	// deleted slots can be created again from version 0
	require.NoError(t, s.CompareAndSwap(ctx, "bravo", 0, sampleState("bravo")))
}

func testLeases(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	lease, err := s.Checkout(ctx, "lease-slot", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "lease-slot", lease.Slot)
	assert.NotEmpty(t, lease.Token)

	_, err = s.Checkout(ctx, "lease-slot", time.Minute)
	assert.ErrorIs(t, err, storage.ErrSlotBusy)

	// other slots are independent
	other, err := s.Checkout(ctx, "other-slot", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, other))

	// only the holder may release
	forged := lease
	forged.Token = "not-the-token"
	assert.ErrorIs(t, s.Release(ctx, forged), storage.ErrLeaseLost)

	require.NoError(t, s.Release(ctx, lease))
	assert.ErrorIs(t, s.Release(ctx, lease), storage.ErrLeaseLost)

	again, err := s.Checkout(ctx, "lease-slot", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, lease.Token, again.Token)
	require.NoError(t, s.Release(ctx, again))
}
