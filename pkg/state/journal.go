package state

import (
	"slices"
	"time"
)

// JournalEntry records one committed turn. Entries are never edited after
// they are appended.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	TurnID    string    `json:"turn_id"`
	Turn      int       `json:"turn"`
	Action    string    `json:"action"`
	Topic     string    `json:"topic,omitempty"`
	Degree    string    `json:"degree"`
	Locked    bool      `json:"locked"`
	Summary   string    `json:"summary"`
	Notes     []string  `json:"notes,omitempty"`
}

func (e JournalEntry) clone() JournalEntry {
	e.Notes = slices.Clone(e.Notes)
	return e
}

// Perception is what the NPC knows about one item.
type Perception struct {
	Seen      bool `json:"seen"`
	Described bool `json:"described"`
	Owned     bool `json:"owned"`
	LastTurn  int  `json:"last_turn"`
}

// PerceptionEvent is an explicit observation carried by a delta. Seen and
// Described only ever switch on; Owned is replaced when present.
type PerceptionEvent struct {
	Item      string `json:"item"`
	Seen      bool   `json:"seen,omitempty"`
	Described bool   `json:"described,omitempty"`
	Owned     *bool  `json:"owned,omitempty"`
}

func (p Perception) merge(ev PerceptionEvent, turn int) Perception {
	p.Seen = p.Seen || ev.Seen
	p.Described = p.Described || ev.Described
	if ev.Owned != nil {
		p.Owned = *ev.Owned
	}
	p.LastTurn = turn
	return p
}
