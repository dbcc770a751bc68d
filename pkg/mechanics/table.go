package mechanics

import (
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

// Relationship change for each checked action by degree.
var relationshipTable = map[dice.CheckType]map[dice.Degree]int{
	dice.CheckPersuade: {
		dice.CriticalFail:    -2,
		dice.Fail:            -1,
		dice.Success:         1,
		dice.CriticalSuccess: 3,
	},
	dice.CheckDeceive: {
		dice.CriticalFail:    -5,
		dice.Fail:            -2,
		dice.Success:         0,
		dice.CriticalSuccess: 1,
	},
	dice.CheckIntimidate: {
		dice.CriticalFail:    -4,
		dice.Fail:            -3,
		dice.Success:         -1,
		dice.CriticalSuccess: 0,
	},
	dice.CheckStealth: {
		dice.CriticalFail:    -3,
		dice.Fail:            -1,
		dice.Success:         0,
		dice.CriticalSuccess: 1,
	},
}

const (
	// GiftBonus is the relationship gained by handing the NPC an item.
	GiftBonus = 2

	// StatusDuration is how many turns silent and vulnerable last.
	StatusDuration = 2
)

// RelationshipDelta looks up the table entry for a check and degree.
func RelationshipDelta(check dice.CheckType, degree dice.Degree) int {
	return relationshipTable[check][degree]
}

// checkDelta builds the full delta for a rolled check, including the flag
// and status side effects of critical results.
func checkDelta(o dice.Outcome) state.Delta {
	d := state.Delta{Relationship: RelationshipDelta(o.CheckType, o.Degree)}

	switch {
	case o.CheckType == dice.CheckDeceive && o.Degree == dice.CriticalFail:
		d.SetFlag(state.FlagDeceptionCaught, true)
		d.AddNote("deception caught")
	case o.CheckType == dice.CheckIntimidate && o.Degree == dice.CriticalFail:
		d.NPCStatus = &state.NPCStatus{Status: state.StatusSilent, Duration: StatusDuration}
		d.AddNote("npc falls silent")
	case o.CheckType == dice.CheckPersuade && o.Degree == dice.CriticalSuccess:
		d.NPCStatus = &state.NPCStatus{Status: state.StatusVulnerable, Duration: StatusDuration}
		d.AddNote("npc opens up")
	}
	return d
}
