package state

import (
	"log/slog"
	"slices"
	"strings"
)

// DeltaWorker applies a Delta to a checked-out SessionState.
type DeltaWorker struct {
	s      *SessionState
	delta  *Delta
	turn   int
	logger *slog.Logger
}

// NewDeltaWorker creates a worker that will apply delta to s as part of the
// given turn number.
func NewDeltaWorker(s *SessionState, delta *Delta, turn int, logger *slog.Logger) *DeltaWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeltaWorker{
		s:      s,
		delta:  delta,
		turn:   turn,
		logger: logger,
	}
}

// Apply ticks the NPC status and then applies the delta. Flag writes that the
// schema rejects are logged and skipped; they never fail the turn.
// It returns the relationship change actually applied after clamping.
func (dw *DeltaWorker) Apply() int {
	dw.s.NPCStatus = dw.s.NPCStatus.Tick()

	if dw.delta == nil {
		return 0
	}

	applied := dw.s.AdjustRelationship(dw.delta.Relationship)
	if applied != dw.delta.Relationship {
		dw.logger.Debug("Relationship change clamped",
			"slot", dw.s.Slot,
			"requested", dw.delta.Relationship,
			"applied", applied)
	}

	dw.applyFlags()
	dw.applyPerceptions()

	if dw.delta.NPCStatus != nil {
		dw.s.NPCStatus = *dw.delta.NPCStatus
	}

	return applied
}

func (dw *DeltaWorker) applyFlags() {
	keys := make([]FlagKey, 0, len(dw.delta.SetFlags))
	for k := range dw.delta.SetFlags {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if err := dw.s.SetFlag(k, dw.delta.SetFlags[k]); err != nil {
			dw.logger.Warn("Rejected flag write",
				"slot", dw.s.Slot,
				"flag", string(k),
				"error", err)
		}
	}
}

func (dw *DeltaWorker) applyPerceptions() {
	for _, ev := range dw.delta.Perceptions {
		item := toSnakeCase(strings.TrimSpace(ev.Item))
		if item == "" {
			dw.logger.Warn("Perception event without item", "slot", dw.s.Slot)
			continue
		}
		if dw.s.InventoryKnowledge == nil {
			dw.s.InventoryKnowledge = make(map[string]Perception)
		}
		dw.s.InventoryKnowledge[item] = dw.s.InventoryKnowledge[item].merge(ev, dw.turn)
	}
}

// toSnakeCase lowercases s and folds spaces, dashes and dots into single underscores.
func toSnakeCase(s string) string {
	var out strings.Builder
	prevUnderscore := false
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		if r == ' ' || r == '-' || r == '.' || r == '_' {
			if !prevUnderscore && i > 0 {
				out.WriteRune('_')
				prevUnderscore = true
			}
			continue
		}
		out.WriteRune(r)
		prevUnderscore = false
	}
	return strings.TrimSuffix(out.String(), "_")
}
