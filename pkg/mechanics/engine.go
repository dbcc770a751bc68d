// Package mechanics turns a classified intent into a dice outcome and a
// typed state delta. It never mutates session state itself.
package mechanics

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

var (
	ErrNoResolver = errors.New("rule engine has no dice resolver")
	ErrNoState    = errors.New("rule engine needs a session state")
)

// MaxRelationshipModifier bounds the relationship contribution to a roll.
const MaxRelationshipModifier = 3

// Resolution is the result of evaluating one intent.
type Resolution struct {
	Outcome dice.Outcome `json:"outcome"`
	Delta   state.Delta  `json:"delta"`
}

// Engine applies the dialogue rules for one NPC and player character.
type Engine struct {
	npc      *actor.NPC
	pc       *actor.PC
	resolver *dice.Resolver
	logger   *slog.Logger
}

// NewEngine creates a rule engine for a cast. The engine has no resolver
// until WithResolver or WithSource is called.
func NewEngine(cast *actor.Cast, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}
	if cast != nil {
		e.npc = cast.NPC
		e.pc = cast.Player
	}
	return e
}

// Targets returns the check difficulties for the engine's NPC.
func (e *Engine) Targets() dice.Targets {
	if e.npc == nil {
		return dice.DefaultTargets()
	}
	return e.npc.Targets()
}

// NPC returns the engine's NPC, which may be nil.
func (e *Engine) NPC() *actor.NPC {
	return e.npc
}

// WithResolver returns a copy of the engine bound to r.
func (e *Engine) WithResolver(r *dice.Resolver) *Engine {
	c := *e
	c.resolver = r
	return &c
}

// WithSource returns a copy of the engine rolling from src against the NPC's targets.
func (e *Engine) WithSource(src dice.Source) *Engine {
	return e.WithResolver(dice.NewResolver(src, e.Targets()))
}

// CheckFor maps an action to the check it requires.
func CheckFor(a intent.Action) dice.CheckType {
	switch a {
	case intent.ActionPersuade:
		return dice.CheckPersuade
	case intent.ActionDeceive:
		return dice.CheckDeceive
	case intent.ActionIntimidate:
		return dice.CheckIntimidate
	case intent.ActionStealth:
		return dice.CheckStealth
	default:
		return dice.CheckNone
	}
}

// Evaluate resolves ci against s. Checked actions draw exactly one d20;
// everything else resolves as an automatic success with no roll.
func (e *Engine) Evaluate(ci intent.ClassifiedIntent, s *state.SessionState) (Resolution, error) {
	if s == nil {
		return Resolution{}, ErrNoState
	}

	check := CheckFor(ci.Action)
	if check == dice.CheckNone {
		return Resolution{Outcome: dice.NoCheck(), Delta: e.uncheckedDelta(ci)}, nil
	}

	if e.resolver == nil {
		return Resolution{}, ErrNoResolver
	}

	mods := e.Modifiers(check, ci, s)
	outcome := e.resolver.Resolve(check, mods)

	e.logger.Debug("Check resolved",
		"slot", s.Slot,
		"check", string(check),
		"roll", outcome.Roll,
		"total", outcome.Total,
		"target", outcome.Target,
		"degree", string(outcome.Degree))

	return Resolution{Outcome: outcome, Delta: checkDelta(outcome)}, nil
}

// Modifiers lists the modifiers for a check in a fixed order: relationship,
// ability, skill, flags, then situational rules. Zero modifiers are omitted.
func (e *Engine) Modifiers(check dice.CheckType, ci intent.ClassifiedIntent, s *state.SessionState) []dice.Modifier {
	var mods []dice.Modifier
	add := func(source string, v int) {
		if v != 0 {
			mods = append(mods, dice.Modifier{Source: source, Value: v})
		}
	}

	add("relationship", RelationshipModifier(s.Relationship))

	ability := abilityFor(check)
	add("ability:"+ability, e.pc.AbilityModifier(ability))

	skill := skillFor(check)
	if bonus, ok := e.pc.SkillBonus(skill); ok {
		add("skill:"+skill, bonus)
	}

	if s.Flags.Get(state.FlagDeceptionCaught) && (check == dice.CheckDeceive || check == dice.CheckPersuade) {
		add(flagSource(state.FlagDeceptionCaught), -2)
	}
	if s.Flags.Get(state.FlagSecretRevealed) && check == dice.CheckPersuade {
		add(flagSource(state.FlagSecretRevealed), 1)
	}

	if e.npc != nil {
		for _, r := range e.npc.Profile.SituationalRules {
			if r.Applies(string(ci.Action), ci.Topic, s.Flags) {
				add("situational:"+r.Description, r.Bonus)
			}
		}
	}
	return mods
}

// RelationshipModifier is floor(relationship/20), bounded to ±3.
func RelationshipModifier(relationship int) int {
	m := relationship / 20
	if relationship < 0 && relationship%20 != 0 {
		m--
	}
	return min(max(m, -MaxRelationshipModifier), MaxRelationshipModifier)
}

func (e *Engine) uncheckedDelta(ci intent.ClassifiedIntent) state.Delta {
	var d state.Delta
	switch ci.Action {
	case intent.ActionGiveItem:
		d.Relationship = GiftBonus
		if ci.Topic == "" || ci.Topic == intent.UnspecifiedTopic {
			d.AddNote("gift received")
			break
		}
		owned := true // the NPC now holds it
		d.Perceptions = append(d.Perceptions, state.PerceptionEvent{Item: ci.Topic, Seen: true, Owned: &owned})
		d.AddNote(fmt.Sprintf("gift received: %s", ci.Topic))
		if e.npc != nil && e.npc.KnowsItem(ci.Topic) {
			d.SetFlag(state.FlagArtifactShown, true)
		}
	case intent.ActionAsk:
		if e.npc != nil && e.npc.KnowsItem(ci.Topic) {
			d.Perceptions = append(d.Perceptions, state.PerceptionEvent{Item: ci.Topic, Described: true})
		}
	}
	return d
}

func abilityFor(check dice.CheckType) string {
	if check == dice.CheckStealth {
		return actor.Dexterity
	}
	return actor.Charisma
}

func skillFor(check dice.CheckType) string {
	switch check {
	case dice.CheckPersuade:
		return actor.SkillPersuasion
	case dice.CheckDeceive:
		return actor.SkillDeception
	case dice.CheckIntimidate:
		return actor.SkillIntimidation
	default:
		return actor.SkillStealth
	}
}

func flagSource(k state.FlagKey) string {
	return "flag:" + string(k)
}
