package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return storage.NewMemoryStorage()
	})
}

func TestMemoryStorage_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemoryStorage()
	s := state.NewSessionState("copy", time.Now())
	require.NoError(t, m.CompareAndSwap(ctx, "copy", 0, s))

	loaded, err := m.Load(ctx, "copy")
	require.NoError(t, err)
	loaded.Flags[state.FlagSecretRevealed] = true
	loaded.Relationship = 50

	again, err := m.Load(ctx, "copy")
	require.NoError(t, err)
	assert.False(t, again.Flags.Get(state.FlagSecretRevealed))
	assert.Zero(t, again.Relationship)
}

func TestMemoryStorage_PingError(t *testing.T) {
	m := storage.NewMemoryStorage()
	boom := errors.New("down")
	m.SetPingError(boom)
	assert.ErrorIs(t, m.Ping(context.Background()), boom)
	m.SetPingError(nil)
	assert.NoError(t, m.Ping(context.Background()))
}

func TestValidateSlot(t *testing.T) {
	valid := []string{"a", "save-1", "Slot_2.bak", "0123456789012345678901234567890123456789012345678901234567890123"}
	for _, s := range valid {
		assert.NoError(t, storage.ValidateSlot(s), s)
	}
	invalid := []string{"", "a b", "ü", "x:y", "01234567890123456789012345678901234567890123456789012345678901234"}
	for _, s := range invalid {
		assert.ErrorIs(t, storage.ValidateSlot(s), storage.ErrInvalidSlot, s)
	}
}
