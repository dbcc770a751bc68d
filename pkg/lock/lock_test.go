package lock

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

func testLock(t *testing.T) *Lock {
	t.Helper()
	cast, err := actor.DefaultCast()
	require.NoError(t, err)
	return New(cast.NPC)
}

func stateAt(rel int) *state.SessionState {
	s := state.NewSessionState("slot", time.Now())
	s.Relationship = rel
	return s
}

var probe = intent.ClassifiedIntent{Action: intent.ActionAsk, Topic: "secret", IsProbingSecret: true}

func TestCheck_ThresholdLocksEveryProbeBelowThreshold(t *testing.T) {
	l := testLock(t)
	degrees := []dice.Outcome{
		dice.NoCheck(),
		dice.Evaluate(dice.CheckPersuade, 20, nil, 12),
		dice.Evaluate(dice.CheckPersuade, 15, nil, 12),
		dice.Evaluate(dice.CheckPersuade, 2, nil, 12),
	}

	for rel := state.MinRelationship; rel < l.Threshold(); rel++ {
		for _, o := range degrees {
			ci := probe
			if o.CheckType != dice.CheckNone {
				ci.Action = intent.ActionPersuade
			}
			turnID := fmt.Sprintf("slot#%d", rel+200)
			d := l.Check(ci, o, stateAt(rel), turnID)
			if !d.Locked || d.Path != PathThreshold || d.Override == "" || d.Disclosed {
				t.Fatalf("relationship %d, %s: got %+v", rel, o, d)
			}
			if d.Topic != "secret" {
				t.Fatalf("relationship %d: topic = %q", rel, d.Topic)
			}
		}
	}
}

func TestCheck_ThresholdAuditNote(t *testing.T) {
	l := testLock(t)
	d := l.Check(probe, dice.NoCheck(), stateAt(10), "slot#1")
	require.Len(t, d.Audit, 1)
	assert.Equal(t, "[SYSTEM OVERRIDE] secret-probe denied, relationship=10<40", d.Audit[0])
}

func TestCheck_DisclosesAtOrAboveThreshold(t *testing.T) {
	l := testLock(t)
	for _, rel := range []int{40, 41, 100} {
		d := l.Check(probe, dice.NoCheck(), stateAt(rel), "slot#3")
		assert.False(t, d.Locked, "rel=%d", rel)
		assert.True(t, d.Disclosed, "rel=%d", rel)
		assert.Empty(t, d.Override)
		assert.Empty(t, d.Audit)
	}
}

func TestCheck_ZeroThreshold(t *testing.T) {
	zero := 0
	npc, err := actor.NewNPCFromProfile(&actor.NPCProfile{
		Name:                "Open Book",
		DisclosureThreshold: &zero,
		DeflectionLines:     []string{"Later."},
	})
	require.NoError(t, err)
	l := New(npc)
	require.Equal(t, 0, l.Threshold())

	d := l.Check(probe, dice.NoCheck(), stateAt(0), "slot#4")
	assert.False(t, d.Locked)
	assert.True(t, d.Disclosed)

	d = l.Check(probe, dice.NoCheck(), stateAt(-1), "slot#5")
	assert.True(t, d.Locked)
	assert.Equal(t, "Later.", d.Override)
}

func TestCheck_NonProbingNeverLocksOnThreshold(t *testing.T) {
	l := testLock(t)
	ci := intent.ClassifiedIntent{Action: intent.ActionAsk, Topic: "weather"}
	d := l.Check(ci, dice.NoCheck(), stateAt(-100), "slot#1")
	assert.Equal(t, Decision{}, d)
}

func TestCheck_SuspicionPath(t *testing.T) {
	l := testLock(t)
	for _, check := range []dice.CheckType{dice.CheckDeceive, dice.CheckIntimidate} {
		o := dice.Evaluate(check, 1, []dice.Modifier{{Source: "x", Value: 30}}, 12)
		ci := intent.ClassifiedIntent{Action: intent.Action(check), Topic: "travel"}

		d := l.Check(ci, o, stateAt(90), "slot#7")
		assert.True(t, d.Locked)
		assert.Equal(t, PathSuspicion, d.Path)
		assert.NotEmpty(t, d.Override)
		require.Len(t, d.Audit, 1)
		assert.Equal(t, fmt.Sprintf("[SYSTEM OVERRIDE] suspicion raised, check=%s roll=1", check), d.Audit[0])
	}

	// plain failure or other checks do not raise suspicion
	d := l.Check(intent.ClassifiedIntent{Action: intent.ActionDeceive}, dice.Evaluate(dice.CheckDeceive, 2, nil, 12), stateAt(0), "slot#8")
	assert.False(t, d.Locked)
	d = l.Check(intent.ClassifiedIntent{Action: intent.ActionPersuade}, dice.Evaluate(dice.CheckPersuade, 1, nil, 12), stateAt(0), "slot#9")
	assert.False(t, d.Locked)
}

func TestCheck_SuspicionNeedsProtectedNPC(t *testing.T) {
	l := New(nil)
	d := l.Check(intent.ClassifiedIntent{Action: intent.ActionDeceive}, dice.Evaluate(dice.CheckDeceive, 1, nil, 12), stateAt(0), "slot#1")
	assert.False(t, d.Locked)
}

func TestCheck_BothPaths(t *testing.T) {
	l := testLock(t)
	ci := intent.ClassifiedIntent{Action: intent.ActionDeceive, Topic: "relic", IsProbingSecret: true}
	d := l.Check(ci, dice.Evaluate(dice.CheckDeceive, 1, nil, 12), stateAt(5), "slot#2")

	assert.True(t, d.Locked)
	assert.Equal(t, PathSuspicion, d.Path)
	assert.Equal(t, "relic", d.Topic)
	require.Len(t, d.Audit, 2)
	assert.True(t, strings.Contains(d.Audit[1], "secret-probe denied"))
	assert.False(t, d.Disclosed)

	// suspicion blocks disclosure even above the threshold
	d = l.Check(ci, dice.Evaluate(dice.CheckDeceive, 1, nil, 12), stateAt(80), "slot#2")
	assert.True(t, d.Locked)
	assert.False(t, d.Disclosed)
}

func TestPick_IsStablePerTurn(t *testing.T) {
	lines := []string{"a", "b", "c"}
	assert.Equal(t, pick(lines, "slot#4"), pick(lines, "slot#4"))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[pick(lines, fmt.Sprintf("slot#%d", i))] = true
	}
	assert.Len(t, seen, 3, "lines should all be reachable")
}
