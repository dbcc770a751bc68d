package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <profile.yaml>...\n", os.Args[0])
		os.Exit(1)
	}

	failed := false
	for _, filename := range os.Args[1:] {
		validator := &ProfileValidator{}
		if err := validator.validateFile(filename); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			failed = true
			continue
		}
		fmt.Printf("%s is valid!\n", filename)
	}
	if failed {
		os.Exit(1)
	}
}

// ProfileValidator checks NPC profile files beyond what loading enforces:
// unknown fields, action names and topic spelling.
type ProfileValidator struct {
	errors []string
}

func (v *ProfileValidator) validateFile(filename string) error {
	ext := filepath.Ext(filename)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("profile file must have .yaml or .yml extension: %s", filepath.Base(filename))
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return v.validate(filename, data)
}

func (v *ProfileValidator) validate(filename string, data []byte) error {
	v.errors = nil

	var spec actor.CastSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return fmt.Errorf("file %s failed strict YAML decoding: %w", filename, err)
	}

	// the loader's own checks: required lines, flags, difficulty keys
	if _, err := actor.ParseCast(data); err != nil {
		return fmt.Errorf("file %s: %w", filename, err)
	}

	v.validateNPC(&spec.NPC)
	v.validatePlayer(&spec.Player)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *ProfileValidator) validateNPC(p *actor.NPCProfile) {
	if p.ID != "" {
		v.validateIDFormat("npc id", p.ID)
	}
	for _, t := range p.OpenTopics {
		v.validateTopic("open topic", t)
	}
	for _, t := range p.ProtectedTopics {
		v.validateTopic("protected topic", t)
		if slices.Contains(p.OpenTopics, t) {
			v.addError("topic %q is both open and protected", t)
		}
	}
	for _, item := range p.KnownItems {
		v.validateTopic("known item", item)
	}
	if p.Protected && len(p.ProtectedTopics) == 0 {
		v.addError("protected NPC lists no protected_topics")
	}

	for i, r := range p.SituationalRules {
		if len(r.Actions) == 0 {
			v.addError("situational rule %d (%s) lists no actions", i, r.Description)
		}
		for _, a := range r.Actions {
			if a != actor.AllActions && !intent.Action(a).Valid() {
				v.addError("situational rule %d (%s): unknown action %q", i, r.Description, a)
			}
		}
		for _, t := range r.Topics {
			v.validateTopic(fmt.Sprintf("situational rule %d topic", i), t)
		}
		if r.Bonus == 0 {
			v.addError("situational rule %d (%s) has a zero bonus", i, r.Description)
		}
	}
}

func (v *ProfileValidator) validatePlayer(pc *actor.PCSpec) {
	for skill := range pc.Skills {
		switch strings.ToLower(skill) {
		case actor.SkillPersuasion, actor.SkillDeception, actor.SkillIntimidation, actor.SkillStealth:
		default:
			v.addError("player skill %q is never used by a check", skill)
		}
	}
}

// validateTopic requires topics to already be in the form classification
// produces, or they can never match.
func (v *ProfileValidator) validateTopic(fieldName, topic string) {
	if norm := intent.NormalizeTopic(topic); norm != topic {
		v.addError("%s %q should be written %q", fieldName, topic, norm)
	}
}

func (v *ProfileValidator) validateIDFormat(fieldName, id string) {
	if id != strings.ToLower(id) || strings.ContainsAny(id, " -") {
		v.addError("%s %q must be lowercase snake_case", fieldName, id)
	}
}

func (v *ProfileValidator) addError(format string, args ...any) {
	v.errors = append(v.errors, "  - "+fmt.Sprintf(format, args...))
}
