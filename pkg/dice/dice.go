// Package dice implements the d20 check resolution used by the rule engine.
package dice

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	mrand "math/rand"
	"strings"
)

// Sides is the die used for every check.
const Sides = 20

// CheckType identifies which kind of check was rolled.
type CheckType string

const (
	CheckNone       CheckType = "none"
	CheckPersuade   CheckType = "persuade"
	CheckDeceive    CheckType = "deceive"
	CheckIntimidate CheckType = "intimidate"
	CheckStealth    CheckType = "stealth-act"
)

// Degree is the classified result of a check.
type Degree string

const (
	CriticalFail    Degree = "critical-fail"
	Fail            Degree = "fail"
	Success         Degree = "success"
	CriticalSuccess Degree = "critical-success"
)

// IsSuccess reports whether the degree counts as a success.
func (d Degree) IsSuccess() bool {
	return d == Success || d == CriticalSuccess
}

// Modifier is a single signed adjustment to a roll, tagged with where it came from.
type Modifier struct {
	Source string `json:"source"`
	Value  int    `json:"value"`
}

// Outcome is the result of resolving one check.
type Outcome struct {
	CheckType     CheckType  `json:"check_type"`
	Roll          int        `json:"roll"`
	Modifiers     []Modifier `json:"modifiers,omitempty"`
	Target        int        `json:"target"`
	Total         int        `json:"total"`
	Degree        Degree     `json:"degree"`
	LockTriggered bool       `json:"lock_triggered"`
}

// String renders the outcome the way it is written to logs and journal notes.
//
// Example: persuade (14) +1 -2 = 13 vs 12 [success]
func (o Outcome) String() string {
	if o.CheckType == CheckNone {
		return fmt.Sprintf("no check [%s]", o.Degree)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d)", o.CheckType, o.Roll)
	for _, m := range o.Modifiers {
		fmt.Fprintf(&sb, " %+d", m.Value)
	}
	fmt.Fprintf(&sb, " = %d vs %d [%s]", o.Total, o.Target, o.Degree)
	return sb.String()
}

// NoCheck is the trivial outcome for actions that do not roll.
func NoCheck() Outcome {
	return Outcome{CheckType: CheckNone, Degree: Success}
}

// SumModifiers adds up all modifier values.
func SumModifiers(mods []Modifier) int {
	sum := 0
	for _, m := range mods {
		sum += m.Value
	}
	return sum
}

// Evaluate classifies a roll deterministically.
//
// A natural 1 is always a critical fail and a natural 20 always a critical
// success, whatever the total. Any other roll succeeds when the total meets
// the target.
func Evaluate(check CheckType, roll int, mods []Modifier, target int) Outcome {
	total := roll + SumModifiers(mods)

	var degree Degree
	switch {
	case roll == 1:
		degree = CriticalFail
	case roll == Sides:
		degree = CriticalSuccess
	case total >= target:
		degree = Success
	default:
		degree = Fail
	}

	return Outcome{
		CheckType: check,
		Roll:      roll,
		Modifiers: append([]Modifier(nil), mods...),
		Target:    target,
		Total:     total,
		Degree:    degree,
	}
}

// Source produces uniformly distributed integers in [0, n).
// *math/rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
}

// NewSource returns a deterministic source for the given seed.
func NewSource(seed int64) Source {
	return mrand.New(mrand.NewSource(seed))
}

// SeedFor derives a per-turn seed from a base seed and a turn id, so a turn
// replayed after a commit conflict draws the same roll.
func SeedFor(base int64, turnID string) int64 {
	h := fnv.New64a()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(base))
	_, _ = h.Write(b[:])
	_, _ = h.Write([]byte(turnID))
	return int64(h.Sum64())
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Targets holds the fixed difficulty for each check type.
type Targets map[CheckType]int

// DefaultTargets are used when no NPC sheet supplies its own.
func DefaultTargets() Targets {
	return Targets{
		CheckPersuade:   12,
		CheckDeceive:    12,
		CheckIntimidate: 14,
		CheckStealth:    13,
	}
}

// DefaultTarget is used for a check type missing from Targets.
const DefaultTarget = 10

// Resolver rolls checks against fixed targets.
type Resolver struct {
	src     Source
	targets Targets
}

// NewResolver builds a resolver over the given source. A nil targets map
// means DefaultTargets.
func NewResolver(src Source, targets Targets) *Resolver {
	if targets == nil {
		targets = DefaultTargets()
	}
	return &Resolver{src: src, targets: targets}
}

// Target returns the difficulty for a check type.
func (r *Resolver) Target(check CheckType) int {
	if t, ok := r.targets[check]; ok {
		return t
	}
	return DefaultTarget
}

// Roll draws one d20.
func (r *Resolver) Roll() int {
	return r.src.Intn(Sides) + 1
}

// Resolve draws one d20 and classifies it against the check's target.
// CheckNone never rolls.
func (r *Resolver) Resolve(check CheckType, mods []Modifier) Outcome {
	if check == CheckNone || check == "" {
		return NoCheck()
	}
	return Evaluate(check, r.Roll(), mods, r.Target(check))
}
