package state

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// SchemaVersion is bumped whenever the persisted SessionState shape or the
// known flag set changes.
const SchemaVersion = 1

const (
	MinRelationship = -100
	MaxRelationship = 100
)

// ErrInvariant is returned by Validate when a state breaks one of its invariants.
var ErrInvariant = errors.New("session state invariant violated")

// SessionState is the durable state of one save slot.
type SessionState struct {
	SchemaVersion      int                   `json:"schema_version"`
	Slot               string                `json:"slot"`
	Relationship       int                   `json:"relationship"`
	Flags              Flags                 `json:"flags"`
	Journal            []JournalEntry        `json:"journal"`
	InventoryKnowledge map[string]Perception `json:"inventory_knowledge"`
	NPCStatus          NPCStatus             `json:"npc_status"`
	TurnCounter        int                   `json:"turn_counter"`
	NoopTurns          int                   `json:"noop_turns"`
	CheckpointVersion  int64                 `json:"checkpoint_version"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// NewSessionState returns a fresh, never-persisted state for a slot.
func NewSessionState(slot string, now time.Time) *SessionState {
	now = now.UTC()
	return &SessionState{
		SchemaVersion:      SchemaVersion,
		Slot:               slot,
		Flags:              make(Flags),
		Journal:            make([]JournalEntry, 0),
		InventoryKnowledge: make(map[string]Perception),
		NPCStatus:          NPCStatus{Status: StatusNormal},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy. The turn state machine mutates only clones so an
// aborted turn leaves the loaded state untouched.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	c.Flags = maps.Clone(s.Flags)
	if c.Flags == nil {
		c.Flags = make(Flags)
	}
	c.InventoryKnowledge = maps.Clone(s.InventoryKnowledge)
	if c.InventoryKnowledge == nil {
		c.InventoryKnowledge = make(map[string]Perception)
	}
	c.Journal = make([]JournalEntry, len(s.Journal))
	for i, e := range s.Journal {
		c.Journal[i] = e.clone()
	}
	return &c
}

// ClampRelationship bounds a relationship score to the design range.
func ClampRelationship(v int) int {
	return min(max(v, MinRelationship), MaxRelationship)
}

// AdjustRelationship adds d to the relationship score and clamps the result.
// It returns the change that was actually applied.
func (s *SessionState) AdjustRelationship(d int) int {
	before := s.Relationship
	s.Relationship = ClampRelationship(s.Relationship + d)
	return s.Relationship - before
}

// AppendJournal adds one entry to the end of the journal.
func (s *SessionState) AppendJournal(e JournalEntry) {
	s.Journal = append(s.Journal, e)
}

// Validate checks the invariants that must hold for every committed state.
func (s *SessionState) Validate() error {
	if s.Relationship < MinRelationship || s.Relationship > MaxRelationship {
		return fmt.Errorf("%w: relationship %d outside [%d, %d]", ErrInvariant, s.Relationship, MinRelationship, MaxRelationship)
	}
	if s.TurnCounter < 0 || s.NoopTurns < 0 || s.NoopTurns > s.TurnCounter {
		return fmt.Errorf("%w: turn_counter=%d noop_turns=%d", ErrInvariant, s.TurnCounter, s.NoopTurns)
	}
	if len(s.Journal) != s.TurnCounter-s.NoopTurns {
		return fmt.Errorf("%w: journal has %d entries, want %d", ErrInvariant, len(s.Journal), s.TurnCounter-s.NoopTurns)
	}
	for k := range s.Flags {
		if !k.Known() {
			return fmt.Errorf("%w: %w: %q", ErrInvariant, ErrUnknownFlag, k)
		}
	}
	return nil
}
