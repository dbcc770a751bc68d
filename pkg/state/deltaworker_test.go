package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestDeltaWorker_Apply(t *testing.T) {
	s := NewSessionState("a", time.Now())
	s.Relationship = 10

	delta := &Delta{Relationship: -5}
	delta.SetFlag(FlagDeceptionCaught, true)
	delta.Perceptions = []PerceptionEvent{{Item: "Silver Amulet", Seen: true, Owned: boolPtr(true)}}
	delta.NPCStatus = &NPCStatus{Status: StatusSilent, Duration: 2}

	applied := NewDeltaWorker(s, delta, 3, testLogger()).Apply()

	assert.Equal(t, -5, applied)
	assert.Equal(t, 5, s.Relationship)
	assert.True(t, s.Flags.Get(FlagDeceptionCaught))
	assert.Equal(t, Perception{Seen: true, Owned: true, LastTurn: 3}, s.InventoryKnowledge["silver_amulet"])
	assert.Equal(t, NPCStatus{Status: StatusSilent, Duration: 2}, s.NPCStatus)
}

func TestDeltaWorker_ClampsRelationship(t *testing.T) {
	s := NewSessionState("a", time.Now())
	s.Relationship = -98

	applied := NewDeltaWorker(s, &Delta{Relationship: -5}, 1, testLogger()).Apply()
	assert.Equal(t, -2, applied)
	assert.Equal(t, MinRelationship, s.Relationship)
}

func TestDeltaWorker_SkipsRejectedFlags(t *testing.T) {
	s := NewSessionState("a", time.Now())
	require.NoError(t, s.SetFlag(FlagSecretRevealed, true))

	delta := &Delta{SetFlags: map[FlagKey]bool{
		FlagSecretRevealed:  false,
		"not_a_flag":        true,
		FlagDeceptionCaught: true,
	}}
	NewDeltaWorker(s, delta, 1, testLogger()).Apply()

	assert.True(t, s.Flags.Get(FlagSecretRevealed), "write-once flag must stay set")
	assert.True(t, s.Flags.Get(FlagDeceptionCaught))
	_, present := s.Flags["not_a_flag"]
	assert.False(t, present)
	require.NoError(t, s.Validate())
}

func TestDeltaWorker_PerceptionMerge(t *testing.T) {
	s := NewSessionState("a", time.Now())
	s.InventoryKnowledge["amulet"] = Perception{Seen: true, Owned: true, LastTurn: 1}

	delta := &Delta{Perceptions: []PerceptionEvent{
		{Item: "amulet", Described: true},
		{Item: "  ", Seen: true},
	}}
	NewDeltaWorker(s, delta, 4, testLogger()).Apply()

	assert.Equal(t, Perception{Seen: true, Described: true, Owned: true, LastTurn: 4}, s.InventoryKnowledge["amulet"])
	assert.Len(t, s.InventoryKnowledge, 1)
}

func TestDeltaWorker_TicksStatusBeforeApplying(t *testing.T) {
	s := NewSessionState("a", time.Now())
	s.NPCStatus = NPCStatus{Status: StatusVulnerable, Duration: 1}

	NewDeltaWorker(s, nil, 2, testLogger()).Apply()
	assert.Equal(t, StatusNormal, s.NPCStatus.Status)

	s.NPCStatus = NPCStatus{Status: StatusVulnerable, Duration: 2}
	NewDeltaWorker(s, &Delta{NPCStatus: &NPCStatus{Status: StatusSilent, Duration: 2}}, 3, testLogger()).Apply()
	assert.Equal(t, NPCStatus{Status: StatusSilent, Duration: 2}, s.NPCStatus)
}

func TestDelta_MergeAndEmpty(t *testing.T) {
	var d Delta
	assert.True(t, d.IsEmpty())

	d.Merge(Delta{Relationship: 2, Notes: []string{"a"}})
	other := Delta{Relationship: -1, Notes: []string{"b"}}
	other.SetFlag(FlagArtifactShown, true)
	d.Merge(other)

	assert.Equal(t, 1, d.Relationship)
	assert.Equal(t, []string{"a", "b"}, d.Notes)
	assert.True(t, d.SetFlags[FlagArtifactShown])
	assert.False(t, d.IsEmpty())

	c := d.Clone()
	c.Notes[0] = "z"
	c.SetFlags[FlagDeceptionCaught] = true
	assert.Equal(t, "a", d.Notes[0])
	assert.NotContains(t, d.SetFlags, FlagDeceptionCaught)
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Silver Amulet":   "silver_amulet",
		"holy-symbol.of":  "holy_symbol_of",
		"already_snake":   "already_snake",
		"trailing space ": "trailing_space",
		"A  B":            "a_b",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
