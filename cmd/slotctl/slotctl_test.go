package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/mechanics"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/turn"
)

func testCLI(t *testing.T, rolls ...int) *cli {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cast, err := actor.DefaultCast()
	require.NoError(t, err)
	engine := turn.NewEngine(storage.NewMemoryStorage(), nil, mechanics.NewEngine(cast, logger), turn.Config{
		NewSource: func(int64) dice.Source { return dice.Fixed(rolls...) },
	}, logger)
	return &cli{engine: engine}
}

func run(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(c)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSlotctl_InitListShow(t *testing.T) {
	c := testCLI(t)

	out, err := run(t, c, "list")
	require.NoError(t, err)
	assert.Equal(t, "no slots\n", out)

	out, err = run(t, c, "init", "save1")
	require.NoError(t, err)
	assert.Equal(t, "created save1 at version 1\n", out)

	_, err = run(t, c, "init", "save1")
	assert.ErrorIs(t, err, turn.ErrSessionExists)

	out, err = run(t, c, "list")
	require.NoError(t, err)
	assert.Equal(t, "save1\n", out)

	out, err = run(t, c, "show", "save1")
	require.NoError(t, err)
	assert.Contains(t, out, "relationship: 0\n")
	assert.Contains(t, out, "flags:        none\n")
	assert.Contains(t, out, "npc status:   normal\n")
}

func TestSlotctl_PlayClassified(t *testing.T) {
	c := testCLI(t)
	_, err := run(t, c, "init", "save1")
	require.NoError(t, err)

	out, err := run(t, c, "play", "save1", "Take", "this", "coin.", "--action", "give-item", "--topic", "coin")
	require.NoError(t, err)
	assert.Contains(t, out, "turn:         save1#1 (attempts 1)\n")
	assert.Contains(t, out, "relationship: 2\n")

	out, err = run(t, c, "show", "save1", "--json")
	require.NoError(t, err)
	var s state.SessionState
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 2, s.Relationship)
	assert.Equal(t, int64(2), s.CheckpointVersion)
	require.Len(t, s.Journal, 1)
	assert.True(t, s.InventoryKnowledge["coin"].Owned)
}

func TestSlotctl_PlayJSON(t *testing.T) {
	c := testCLI(t, 15)
	_, err := run(t, c, "init", "save1")
	require.NoError(t, err)

	out, err := run(t, c, "play", "save1", "Please help me.", "--action", "persuade", "--topic", "road", "--json")
	require.NoError(t, err)

	var res turn.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "save1#1", res.TurnID)
	assert.Equal(t, dice.CheckPersuade, res.Outcome.CheckType)
	assert.Equal(t, 15, res.Outcome.Roll)
	assert.Equal(t, "save1", res.Envelope.Slot)
}

func TestSlotctl_Delete(t *testing.T) {
	c := testCLI(t)
	_, err := run(t, c, "init", "save1")
	require.NoError(t, err)

	out, err := run(t, c, "delete", "save1")
	require.NoError(t, err)
	assert.Equal(t, "deleted save1\n", out)

	_, err = run(t, c, "delete", "save1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSlotctl_ExitCodes(t *testing.T) {
	c := testCLI(t)
	_, err := run(t, c, "init", "save1")
	require.NoError(t, err)

	_, err = run(t, c, "show", "missing")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))

	// no classifier configured
	_, err = run(t, c, "play", "save1", "hello")
	require.Error(t, err)
	assert.Equal(t, 5, exitCode(err))

	_, err = run(t, c, "show")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}
