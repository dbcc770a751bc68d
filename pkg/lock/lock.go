// Package lock decides when the NPC refuses to talk about its secret,
// whatever the generator would otherwise say.
package lock

import (
	"fmt"
	"hash/fnv"

	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

// Path names the rule that engaged the lock.
type Path string

const (
	PathNone      Path = ""
	PathThreshold Path = "threshold"
	PathSuspicion Path = "suspicion"
)

// AuditPrefix marks every journal note written by the lock.
const AuditPrefix = "[SYSTEM OVERRIDE]"

var (
	defaultDeflections = []string{"The NPC changes the subject."}
	defaultSuspicions  = []string{"The NPC eyes you with open suspicion and says nothing more."}
)

// Decision is the outcome of a lock check for one turn.
type Decision struct {
	Locked    bool     `json:"locked"`
	Override  string   `json:"override,omitempty"`
	Path      Path     `json:"path,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Audit     []string `json:"audit,omitempty"`
	Disclosed bool     `json:"disclosed"`
}

// Lock holds the per-NPC lock configuration.
type Lock struct {
	threshold   int
	protected   bool
	deflections []string
	suspicions  []string
}

// New builds a lock for npc. A nil npc gets the default threshold, is not
// protected and uses generic lines.
func New(npc *actor.NPC) *Lock {
	l := &Lock{
		threshold:   actor.DefaultDisclosureThreshold,
		deflections: defaultDeflections,
		suspicions:  defaultSuspicions,
	}
	if npc == nil {
		return l
	}
	l.threshold = npc.Threshold()
	l.protected = npc.Profile.Protected
	if len(npc.Profile.DeflectionLines) > 0 {
		l.deflections = npc.Profile.DeflectionLines
	}
	if len(npc.Profile.SuspicionLines) > 0 {
		l.suspicions = npc.Profile.SuspicionLines
	}
	return l
}

// Threshold is the relationship below which secret probes are refused.
func (l *Lock) Threshold() int {
	return l.threshold
}

// Check evaluates both lock paths against the state as it was before the
// turn. The threshold path fires on any secret probe while the relationship
// is below the threshold, whatever the roll. The suspicion path fires when a
// protected NPC sees a deceive or intimidate check critically fail. When
// both fire the suspicion line wins, and both audit notes are kept.
func (l *Lock) Check(ci intent.ClassifiedIntent, outcome dice.Outcome, s *state.SessionState, turnID string) Decision {
	var d Decision

	if l.suspicious(outcome) {
		d.Locked = true
		d.Path = PathSuspicion
		d.Topic = ci.Topic
		d.Override = pick(l.suspicions, turnID)
		d.Audit = append(d.Audit, fmt.Sprintf("%s suspicion raised, check=%s roll=%d", AuditPrefix, outcome.CheckType, outcome.Roll))
	}

	if ci.IsProbingSecret {
		if s.Relationship < l.threshold {
			if !d.Locked {
				d.Locked = true
				d.Path = PathThreshold
				d.Topic = ci.Topic
				d.Override = pick(l.deflections, turnID)
			}
			d.Audit = append(d.Audit, fmt.Sprintf("%s secret-probe denied, relationship=%d<%d", AuditPrefix, s.Relationship, l.threshold))
		} else if !d.Locked {
			d.Disclosed = true
			d.Topic = ci.Topic
		}
	}
	return d
}

func (l *Lock) suspicious(o dice.Outcome) bool {
	if !l.protected || o.Degree != dice.CriticalFail {
		return false
	}
	return o.CheckType == dice.CheckDeceive || o.CheckType == dice.CheckIntimidate
}

// pick chooses a line by hashing the turn id, so a replayed turn gets the
// same line.
func pick(lines []string, turnID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(turnID))
	return lines[h.Sum32()%uint32(len(lines))]
}
