package state

import (
	"maps"
	"slices"
)

// Delta is the change a resolved turn wants to make to a SessionState. It is
// plain data, computed by the rule engine and narrative lock and applied by a
// DeltaWorker at commit time.
type Delta struct {
	Relationship int               `json:"relationship,omitempty"`
	SetFlags     map[FlagKey]bool  `json:"set_flags,omitempty"`
	Perceptions  []PerceptionEvent `json:"perceptions,omitempty"`
	NPCStatus    *NPCStatus        `json:"npc_status,omitempty"`
	Notes        []string          `json:"notes,omitempty"`
}

// IsEmpty reports whether applying the delta would change nothing.
func (d *Delta) IsEmpty() bool {
	return d == nil || (d.Relationship == 0 &&
		len(d.SetFlags) == 0 &&
		len(d.Perceptions) == 0 &&
		d.NPCStatus == nil &&
		len(d.Notes) == 0)
}

// SetFlag records a flag write.
func (d *Delta) SetFlag(k FlagKey, v bool) {
	if d.SetFlags == nil {
		d.SetFlags = make(map[FlagKey]bool)
	}
	d.SetFlags[k] = v
}

// AddNote appends a journal note.
func (d *Delta) AddNote(note string) {
	d.Notes = append(d.Notes, note)
}

// Merge folds other into d. Relationship changes add up, flag writes and the
// NPC status from other win, notes and perceptions are appended in order.
func (d *Delta) Merge(other Delta) {
	d.Relationship += other.Relationship
	for k, v := range other.SetFlags {
		d.SetFlag(k, v)
	}
	d.Perceptions = append(d.Perceptions, other.Perceptions...)
	if other.NPCStatus != nil {
		s := *other.NPCStatus
		d.NPCStatus = &s
	}
	d.Notes = append(d.Notes, other.Notes...)
}

// Clone returns a deep copy.
func (d Delta) Clone() Delta {
	c := d
	c.SetFlags = maps.Clone(d.SetFlags)
	c.Perceptions = slices.Clone(d.Perceptions)
	if d.NPCStatus != nil {
		s := *d.NPCStatus
		c.NPCStatus = &s
	}
	c.Notes = slices.Clone(d.Notes)
	return c
}
