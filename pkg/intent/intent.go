package intent

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Action is the closed set of things a player utterance can try to do.
type Action string

const (
	ActionAsk        Action = "ask"
	ActionPersuade   Action = "persuade"
	ActionDeceive    Action = "deceive"
	ActionIntimidate Action = "intimidate"
	ActionGiveItem   Action = "give-item"
	ActionStealth    Action = "stealth-act"
	ActionNone       Action = "none"
)

var actions = []Action{
	ActionAsk,
	ActionPersuade,
	ActionDeceive,
	ActionIntimidate,
	ActionGiveItem,
	ActionStealth,
	ActionNone,
}

// Actions returns every valid action in declaration order.
func Actions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	for _, known := range actions {
		if a == known {
			return true
		}
	}
	return false
}

// UnspecifiedTopic stands in for a probing intent that named no topic.
const UnspecifiedTopic = "unspecified"

// ClassifiedIntent is the validated, typed reading of one utterance.
type ClassifiedIntent struct {
	Action          Action `json:"action"`
	Topic           string `json:"topic,omitempty"`
	IsProbingSecret bool   `json:"is_probing_secret"`
}

// None is the intent used for blank and unreadable utterances.
func None() ClassifiedIntent {
	return ClassifiedIntent{Action: ActionNone}
}

func (ci ClassifiedIntent) String() string {
	s := string(ci.Action)
	if ci.Topic != "" {
		s += " about " + ci.Topic
	}
	if ci.IsProbingSecret {
		s += " (probing)"
	}
	return s
}

// Classification is the raw output of a classifier provider before it has
// been checked against the action set.
type Classification struct {
	Action          string `json:"action"`
	Topic           string `json:"topic,omitempty"`
	IsProbingSecret bool   `json:"is_probing_secret"`
}

// Anomaly describes one way a raw classification had to be corrected.
type Anomaly struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s=%q: %s", a.Field, a.Value, a.Reason)
}

// Validate turns a raw classification into a ClassifiedIntent. It never
// fails: an unknown action degrades to none and every correction is reported
// as an anomaly. IsProbingSecret is carried over as given.
func Validate(raw Classification) (ClassifiedIntent, []Anomaly) {
	var anomalies []Anomaly

	action := Action(strings.TrimSpace(cases.Fold().String(raw.Action)))
	if !action.Valid() {
		anomalies = append(anomalies, Anomaly{Field: "action", Value: raw.Action, Reason: "unknown action, using none"})
		action = ActionNone
	}

	ci := ClassifiedIntent{
		Action:          action,
		Topic:           NormalizeTopic(raw.Topic),
		IsProbingSecret: raw.IsProbingSecret,
	}
	if ci.IsProbingSecret && ci.Topic == "" {
		anomalies = append(anomalies, Anomaly{Field: "topic", Value: raw.Topic, Reason: "probing intent without topic"})
		ci.Topic = UnspecifiedTopic
	}
	return ci, anomalies
}

// NormalizeTopic case-folds a topic tag and collapses every run of
// non-alphanumeric runes into a single underscore.
func NormalizeTopic(topic string) string {
	folded := cases.Fold().String(strings.TrimSpace(topic))
	var sb strings.Builder
	pending := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pending = false
			sb.WriteRune(r)
			continue
		}
		pending = true
	}
	return sb.String()
}
