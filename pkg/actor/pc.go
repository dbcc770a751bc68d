package actor

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jwebster45206/d20"
)

// Core ability names as stored on a d20.Actor.
const (
	Strength     = "strength"
	Dexterity    = "dexterity"
	Constitution = "constitution"
	Intelligence = "intelligence"
	Wisdom       = "wisdom"
	Charisma     = "charisma"
)

// Stats5e represents the six core D&D 5e ability scores
type Stats5e struct {
	Strength     int `json:"strength" yaml:"strength"`
	Dexterity    int `json:"dexterity" yaml:"dexterity"`
	Constitution int `json:"constitution" yaml:"constitution"`
	Intelligence int `json:"intelligence" yaml:"intelligence"`
	Wisdom       int `json:"wisdom" yaml:"wisdom"`
	Charisma     int `json:"charisma" yaml:"charisma"`
}

// ToAttributes converts Stats5e to a map for d20.Actor compatibility.
// Scores left at zero are treated as an average 10.
func (s *Stats5e) ToAttributes() map[string]int {
	orTen := func(v int) int {
		if v == 0 {
			return 10
		}
		return v
	}
	return map[string]int{
		Strength:     orTen(s.Strength),
		Dexterity:    orTen(s.Dexterity),
		Constitution: orTen(s.Constitution),
		Intelligence: orTen(s.Intelligence),
		Wisdom:       orTen(s.Wisdom),
		Charisma:     orTen(s.Charisma),
	}
}

// AbilityModifier is the 5e modifier for a score: (score-10)/2 rounded down.
func AbilityModifier(score int) int {
	d := score - 10
	if d < 0 {
		return -((-d + 1) / 2)
	}
	return d / 2
}

// Skill names a PC may carry a bonus for.
const (
	SkillPersuasion   = "persuasion"
	SkillDeception    = "deception"
	SkillIntimidation = "intimidation"
	SkillStealth      = "stealth"
)

const (
	defaultHP = 10
	defaultAC = 10
)

// PCSpec is the serializable character sheet for the player character.
type PCSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Pronouns    string         `json:"pronouns,omitempty" yaml:"pronouns,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Stats       Stats5e        `json:"stats" yaml:"stats"`
	Skills      map[string]int `json:"skills,omitempty" yaml:"skills,omitempty"` // persuasion, deception, ...
	HP          int            `json:"hp,omitempty" yaml:"hp,omitempty"`
	AC          int            `json:"ac,omitempty" yaml:"ac,omitempty"`
	Inventory   []string       `json:"inventory,omitempty" yaml:"inventory,omitempty"`
}

// PC is the runtime representation of the player character
type PC struct {
	Spec  *PCSpec
	Actor *d20.Actor // Built at runtime from PCSpec
}

// NewPCFromSpec builds the PC's d20.Actor from its sheet.
func NewPCFromSpec(spec *PCSpec) (*PC, error) {
	if spec == nil {
		return nil, fmt.Errorf("spec cannot be nil")
	}
	if spec.ID == "" {
		spec.ID = "player"
	}

	allAttrs := spec.Stats.ToAttributes()
	skills := make(map[string]int, len(spec.Skills))
	for k, v := range spec.Skills {
		skills[strings.ToLower(k)] = v
		allAttrs[strings.ToLower(k)] = v
	}
	spec.Skills = skills

	a, err := buildActor(spec.ID, spec.HP, spec.AC, allAttrs)
	if err != nil {
		return nil, err
	}
	return &PC{Spec: spec, Actor: a}, nil
}

// AbilityModifier returns the PC's modifier for one of the six core abilities.
func (pc *PC) AbilityModifier(ability string) int {
	if pc == nil || pc.Actor == nil {
		return 0
	}
	score, ok := pc.Actor.Attribute(ability)
	if !ok {
		return 0
	}
	return AbilityModifier(score)
}

// SkillBonus returns the PC's bonus for a skill, if the sheet lists one.
func (pc *PC) SkillBonus(skill string) (int, bool) {
	if pc == nil || pc.Actor == nil {
		return 0, false
	}
	if _, listed := pc.Spec.Skills[skill]; !listed {
		return 0, false
	}
	return pc.Actor.Attribute(skill)
}

// HasItem reports whether the PC carries item (case-insensitive).
func (pc *PC) HasItem(item string) bool {
	if pc == nil {
		return false
	}
	return slices.ContainsFunc(pc.Spec.Inventory, func(s string) bool {
		return strings.EqualFold(s, item)
	})
}

func buildActor(id string, hp, ac int, attrs map[string]int) (*d20.Actor, error) {
	if hp <= 0 {
		hp = defaultHP
	}
	if ac <= 0 {
		ac = defaultAC
	}
	a, err := d20.NewActor(id).
		WithHP(hp).
		WithAC(ac).
		WithAttributes(maps.Clone(attrs)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build actor: %w", err)
	}
	return a, nil
}
