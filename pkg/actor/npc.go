package actor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jwebster45206/d20"

	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

// DefaultDisclosureThreshold is the relationship an NPC needs before it will
// talk about its secret.
const DefaultDisclosureThreshold = 40

// AllActions in a situational rule matches every action.
const AllActions = "all"

// SituationalRule is a data-driven bonus or penalty from the NPC profile.
type SituationalRule struct {
	Description  string   `json:"description" yaml:"description"`
	Actions      []string `json:"actions" yaml:"actions"`                                   // action names or "all"
	Topics       []string `json:"topics,omitempty" yaml:"topics,omitempty"`                 // empty matches any topic
	RequiresFlag string   `json:"requires_flag,omitempty" yaml:"requires_flag,omitempty"` // flag that must be set
	Bonus        int      `json:"bonus" yaml:"bonus"`
}

// Applies reports whether the rule fires for an action and topic given the
// current flags.
func (r SituationalRule) Applies(action, topic string, flags state.Flags) bool {
	if !slices.Contains(r.Actions, action) && !slices.Contains(r.Actions, AllActions) {
		return false
	}
	if len(r.Topics) > 0 && !slices.Contains(r.Topics, topic) {
		return false
	}
	if r.RequiresFlag != "" && !flags.Get(state.FlagKey(r.RequiresFlag)) {
		return false
	}
	return true
}

// NPCProfile is the serializable sheet for the NPC the player talks to.
type NPCProfile struct {
	ID                  string            `json:"id" yaml:"id"`
	Name                string            `json:"name" yaml:"name"`
	Disposition         string            `json:"disposition,omitempty" yaml:"disposition,omitempty"` // e.g. "wary", "friendly"
	Description         string            `json:"description,omitempty" yaml:"description,omitempty"`
	Protected           bool              `json:"protected" yaml:"protected"` // guards its secret against suspicious players
	Stats               Stats5e           `json:"stats" yaml:"stats"`
	DisclosureThreshold *int              `json:"disclosure_threshold,omitempty" yaml:"disclosure_threshold,omitempty"` // nil means DefaultDisclosureThreshold
	OpenTopics          []string          `json:"open_topics,omitempty" yaml:"open_topics,omitempty"`
	ProtectedTopics     []string          `json:"protected_topics,omitempty" yaml:"protected_topics,omitempty"`
	DeflectionLines     []string          `json:"deflection_lines" yaml:"deflection_lines"`
	SuspicionLines      []string          `json:"suspicion_lines" yaml:"suspicion_lines"`
	KnownItems          []string          `json:"known_items,omitempty" yaml:"known_items,omitempty"`
	SituationalRules    []SituationalRule `json:"situational_rules,omitempty" yaml:"situational_rules,omitempty"`
	Difficulty          map[string]int    `json:"difficulty,omitempty" yaml:"difficulty,omitempty"` // per check type target overrides
}

// Validate checks the profile for values the engine cannot work with.
func (p *NPCProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("npc profile: name is required")
	}
	if len(p.DeflectionLines) == 0 {
		return fmt.Errorf("npc profile %q: at least one deflection line is required", p.Name)
	}
	if p.Protected && len(p.SuspicionLines) == 0 {
		return fmt.Errorf("npc profile %q: protected NPCs need suspicion lines", p.Name)
	}
	if i := blankLine(p.DeflectionLines); i >= 0 {
		return fmt.Errorf("npc profile %q: deflection line %d is blank", p.Name, i)
	}
	if i := blankLine(p.SuspicionLines); i >= 0 {
		return fmt.Errorf("npc profile %q: suspicion line %d is blank", p.Name, i)
	}
	if t := p.DisclosureThreshold; t != nil && (*t < 0 || *t > state.MaxRelationship) {
		return fmt.Errorf("npc profile %q: disclosure_threshold %d out of range", p.Name, *t)
	}
	for check := range p.Difficulty {
		switch dice.CheckType(check) {
		case dice.CheckPersuade, dice.CheckDeceive, dice.CheckIntimidate, dice.CheckStealth:
		default:
			return fmt.Errorf("npc profile %q: difficulty for unknown check %q", p.Name, check)
		}
	}
	for i, r := range p.SituationalRules {
		if r.RequiresFlag == "" {
			continue
		}
		if _, err := state.ParseFlagKey(r.RequiresFlag); err != nil {
			return fmt.Errorf("npc profile %q: situational rule %d: %w", p.Name, i, err)
		}
	}
	return nil
}

// NPC is the runtime NPC: its profile plus a d20 sheet.
type NPC struct {
	Profile *NPCProfile
	Actor   *d20.Actor
}

// NewNPCFromProfile validates the profile and builds its d20.Actor.
func NewNPCFromProfile(p *NPCProfile) (*NPC, error) {
	if p == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = toID(p.Name)
	}
	for i, r := range p.SituationalRules {
		if r.RequiresFlag != "" {
			k, _ := state.ParseFlagKey(r.RequiresFlag)
			p.SituationalRules[i].RequiresFlag = string(k)
		}
	}

	a, err := buildActor(p.ID, 0, 0, p.Stats.ToAttributes())
	if err != nil {
		return nil, err
	}
	return &NPC{Profile: p, Actor: a}, nil
}

// PassiveDC is the NPC's passive insight: 10 + its wisdom modifier.
func (n *NPC) PassiveDC() int {
	score, ok := n.Actor.Attribute(Wisdom)
	if !ok {
		return dice.DefaultTarget
	}
	return dice.DefaultTarget + AbilityModifier(score)
}

// Targets returns the difficulty for each check against this NPC. Checks
// without an explicit override use the passive DC.
func (n *NPC) Targets() dice.Targets {
	dc := n.PassiveDC()
	t := dice.Targets{
		dice.CheckPersuade:   dc,
		dice.CheckDeceive:    dc,
		dice.CheckIntimidate: dc,
		dice.CheckStealth:    dc,
	}
	for check, v := range n.Profile.Difficulty {
		t[dice.CheckType(check)] = v
	}
	return t
}

// Threshold is the relationship the NPC needs before disclosing its secret.
func (n *NPC) Threshold() int {
	if n.Profile.DisclosureThreshold == nil {
		return DefaultDisclosureThreshold
	}
	return *n.Profile.DisclosureThreshold
}

// KnowsItem reports whether item is one the NPC recognises.
func (n *NPC) KnowsItem(item string) bool {
	return containsFold(n.Profile.KnownItems, item)
}

// IsProtectedTopic reports whether topic is one the NPC guards.
func (n *NPC) IsProtectedTopic(topic string) bool {
	return containsFold(n.Profile.ProtectedTopics, topic)
}

// blankLine returns the index of the first empty or whitespace-only line, or -1.
func blankLine(lines []string) int {
	return slices.IndexFunc(lines, func(l string) bool { return strings.TrimSpace(l) == "" })
}

func containsFold(list []string, s string) bool {
	s = toID(s)
	if s == "" {
		return false
	}
	return slices.ContainsFunc(list, func(v string) bool { return toID(v) == s })
}

// toID lowercases s and replaces runs of spaces and dashes with underscores.
func toID(s string) string {
	f := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	})
	return strings.Join(f, "_")
}
