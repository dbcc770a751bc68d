package state

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownFlag   = errors.New("unknown flag")
	ErrFlagWriteOnce = errors.New("flag is write-once")
)

// FlagKey names one world-state flag. Only keys listed in knownFlags may be
// written; everything else is rejected at the boundary.
type FlagKey string

const (
	FlagSecretRevealed  FlagKey = "secret_revealed"
	FlagDeceptionCaught FlagKey = "deception_caught"
	FlagArtifactShown   FlagKey = "artifact_shown"
	FlagQuestStageTrust FlagKey = "quest_stage_trust"
)

type flagSpec struct {
	reversible bool
}

var knownFlags = map[FlagKey]flagSpec{
	FlagSecretRevealed:  {},
	FlagDeceptionCaught: {},
	FlagArtifactShown:   {},
	FlagQuestStageTrust: {reversible: true},
}

// Known reports whether k is part of the current flag schema.
func (k FlagKey) Known() bool {
	_, ok := knownFlags[k]
	return ok
}

// Reversible reports whether a set flag may be cleared again.
func (k FlagKey) Reversible() bool {
	return knownFlags[k].reversible
}

// KnownFlags lists the flag schema in sorted order.
func KnownFlags() []FlagKey {
	keys := make([]FlagKey, 0, len(knownFlags))
	for k := range knownFlags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ParseFlagKey normalises s and checks it against the flag schema.
func ParseFlagKey(s string) (FlagKey, error) {
	k := FlagKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownFlag, s)
	}
	return k, nil
}

// Flags holds the boolean world-state flags for a slot.
type Flags map[FlagKey]bool

// Get returns the flag value; unset and unknown keys read as false.
func (f Flags) Get(k FlagKey) bool {
	return f[k]
}

// SetFlag writes a flag, enforcing the schema and write-once rules.
// Writing the value a flag already holds is a no-op.
func (s *SessionState) SetFlag(k FlagKey, v bool) error {
	if !k.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, k)
	}
	cur, set := s.Flags[k]
	if set && cur == v {
		return nil
	}
	if set && cur && !v && !k.Reversible() {
		return fmt.Errorf("%w: %q", ErrFlagWriteOnce, k)
	}
	if s.Flags == nil {
		s.Flags = make(Flags)
	}
	s.Flags[k] = v
	return nil
}
