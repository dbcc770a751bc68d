package runner

import (
	"time"

	"github.com/jwebster45206/dialogue-engine/pkg/intent"
)

// TestSuite defines one scripted conversation against a fresh save slot.
// A suite either lists Steps or sequences other case files through Cases.
type TestSuite struct {
	Name  string     `json:"name"`
	Steps []TestStep `json:"steps,omitempty"`
	Cases []string   `json:"cases,omitempty"`
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep is a single player turn and what the slot should look like
// once the worker has committed it. A nil Classification leaves the
// utterance to the worker's classifier.
type TestStep struct {
	Name           string                 `json:"name,omitempty"`
	Utterance      string                 `json:"utterance"`
	Classification *intent.Classification `json:"classification,omitempty"`
	Expectations   Expectations           `json:"expect"`
}

// Expectations are checked against the slot after the step commits.
// Journal fields refer to the newest journal entry.
type Expectations struct {
	Relationship      *int            `json:"relationship,omitempty"`
	RelationshipDelta *int            `json:"relationship_delta,omitempty"`
	TurnCounter       *int            `json:"turn_counter,omitempty"`
	Flags             map[string]bool `json:"flags,omitempty"`
	NPCStatus         *string         `json:"npc_status,omitempty"`

	Action   *string  `json:"action,omitempty"`
	Topic    *string  `json:"topic,omitempty"`
	Locked   *bool    `json:"locked,omitempty"`
	DegreeIn []string `json:"degree_in,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
	Version  int64
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	Slot     string
}
