// Package envelope builds the per-turn instruction envelope handed to the
// dialogue generator, and enforces lock overrides on what it produces.
package envelope

import (
	"context"
	"slices"

	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/lock"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

// Tone is the directive for how the NPC should sound this turn.
type Tone string

const (
	ToneNeutral    Tone = "neutral"
	ToneWarm       Tone = "warm"
	ToneGuarded    Tone = "guarded"
	ToneCold       Tone = "cold"
	ToneSuspicious Tone = "suspicious"
	ToneSilent     Tone = "silent"
)

// Relationship bands used when no lock or status decides the tone.
const (
	ColdAtOrBelow = -20
	WarmAtOrAbove = 60
)

// Envelope is everything the generator is allowed to know about the turn.
type Envelope struct {
	Slot               string   `json:"slot"`
	TurnID             string   `json:"turn_id"`
	CheckpointVersion  int64    `json:"checkpoint_version"`
	AllowedTopics      []string `json:"allowed_topics"`
	ForbiddenTopics    []string `json:"forbidden_topics"`
	ToneDirective      Tone     `json:"tone_directive"`
	ForcedOverrideText string   `json:"forced_override_text,omitempty"`
}

// Locked reports whether the generator's text will be replaced.
func (e *Envelope) Locked() bool {
	return e.ForcedOverrideText != ""
}

// Params is the input to Build.
type Params struct {
	TurnID   string
	NPC      *actor.NPC
	State    *state.SessionState // committed state for this turn
	Decision lock.Decision
	Lock     *lock.Lock
}

// Build assembles the envelope for a committed turn.
func Build(p Params) Envelope {
	threshold := actor.DefaultDisclosureThreshold
	if p.Lock != nil {
		threshold = p.Lock.Threshold()
	}

	var allowed, forbidden []string
	if p.NPC != nil {
		allowed = append(allowed, p.NPC.Profile.OpenTopics...)
		if p.State.Flags.Get(state.FlagSecretRevealed) {
			allowed = append(allowed, p.NPC.Profile.ProtectedTopics...)
		} else {
			forbidden = append(forbidden, p.NPC.Profile.ProtectedTopics...)
		}
	}
	if p.Decision.Disclosed && p.Decision.Topic != "" {
		allowed = append(allowed, p.Decision.Topic)
	}
	if p.Decision.Locked && p.Decision.Topic != "" {
		forbidden = append(forbidden, p.Decision.Topic)
	}

	forbidden = sortedSet(forbidden)
	allowed = slices.DeleteFunc(sortedSet(allowed), func(t string) bool {
		_, found := slices.BinarySearch(forbidden, t)
		return found
	})

	return Envelope{
		Slot:               p.State.Slot,
		TurnID:             p.TurnID,
		CheckpointVersion:  p.State.CheckpointVersion,
		AllowedTopics:      allowed,
		ForbiddenTopics:    forbidden,
		ToneDirective:      ToneFor(p.State, p.Decision, threshold),
		ForcedOverrideText: p.Decision.Override,
	}
}

// ToneFor picks the tone directive. Lock paths win, then the NPC status,
// then the relationship band.
func ToneFor(s *state.SessionState, d lock.Decision, threshold int) Tone {
	switch d.Path {
	case lock.PathSuspicion:
		return ToneSuspicious
	case lock.PathThreshold:
		return ToneGuarded
	}
	if s.NPCStatus.Active() {
		switch s.NPCStatus.Status {
		case state.StatusSilent:
			return ToneSilent
		case state.StatusVulnerable:
			return ToneWarm
		}
	}
	switch {
	case s.Relationship <= ColdAtOrBelow:
		return ToneCold
	case s.Relationship < threshold:
		return ToneGuarded
	case s.Relationship >= WarmAtOrAbove:
		return ToneWarm
	default:
		return ToneNeutral
	}
}

func sortedSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Generator produces the NPC's reply for an envelope. Implementations live
// outside the core; the core only guarantees what the envelope contains.
type Generator interface {
	Generate(ctx context.Context, env Envelope, utterance string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, env Envelope, utterance string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, env Envelope, utterance string) (string, error) {
	return f(ctx, env, utterance)
}

// Enforce returns the text the player sees: the forced override verbatim when
// one is set, otherwise the generated text.
func Enforce(env Envelope, generated string) string {
	if env.ForcedOverrideText != "" {
		return env.ForcedOverrideText
	}
	return generated
}

// Speak runs the generator and enforces the override. A locked envelope
// never reaches the generator.
func Speak(ctx context.Context, gen Generator, env Envelope, utterance string) (string, error) {
	if env.Locked() || gen == nil {
		return Enforce(env, ""), nil
	}
	text, err := gen.Generate(ctx, env, utterance)
	if err != nil {
		return "", err
	}
	return Enforce(env, text), nil
}
