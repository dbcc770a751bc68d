package state

// Status is a temporary condition on the NPC that colours its replies.
type Status string

const (
	StatusNormal     Status = "normal"
	StatusSilent     Status = "silent"
	StatusVulnerable Status = "vulnerable"
)

// NPCStatus is the NPC's current status and the turns it has left.
type NPCStatus struct {
	Status   Status `json:"status"`
	Duration int    `json:"duration"`
}

// Active reports whether a non-normal status is in effect.
func (n NPCStatus) Active() bool {
	return n.Status != "" && n.Status != StatusNormal && n.Duration > 0
}

// Tick consumes one turn of the current status, falling back to normal when
// it runs out.
func (n NPCStatus) Tick() NPCStatus {
	if n.Duration <= 1 {
		return NPCStatus{Status: StatusNormal}
	}
	return NPCStatus{Status: n.Status, Duration: n.Duration - 1}
}
