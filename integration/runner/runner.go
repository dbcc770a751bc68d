package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration suites against a running API and worker.
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...any)
	ErrorHandlingMode ErrorHandlingMode
	// KeepSlots leaves each suite's slot in the store for inspection.
	KeepSlots bool
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 10 * time.Second},
		Timeout:           CommitTimeout,
		Logger:            func(string, ...any) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// A sequence may reference another sequence
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite plays every step of suite against a freshly created slot.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
		Slot:    "it-" + uuid.NewString()[:8],
	}

	current, err := CreateSlot(ctx, r.Client, r.BaseURL, result.Slot)
	if err != nil {
		result.Error = fmt.Errorf("failed to create slot: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	if !r.KeepSlots {
		defer func() {
			if err := DeleteSlot(context.WithoutCancel(ctx), r.Client, r.BaseURL, result.Slot); err != nil {
				r.Logger("    warning: %v", err)
			}
		}()
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult, next := r.runStep(ctx, result.Slot, step, current)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
		} else {
			r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
		}

		if next != nil {
			current = next
		}
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// runStep posts one turn and waits for its commit. The returned state is
// nil when the turn never committed.
func (r *Runner) runStep(ctx context.Context, slot string, step TestStep, before *state.SessionState) (TestResult, *state.SessionState) {
	start := time.Now()
	result := TestResult{StepName: step.Name}

	stepCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	if _, err := PostTurn(stepCtx, r.Client, r.BaseURL, slot, step.Utterance, step.Classification); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil
	}

	after, err := PollForCommit(stepCtx, r.Client, r.BaseURL, slot, before.CheckpointVersion)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Version = after.CheckpointVersion

	if err := checkExpectations(step.Expectations, before, after); err != nil {
		result.Error = err
	} else {
		result.Success = true
	}
	result.Duration = time.Since(start)
	return result, after
}

func checkExpectations(exp Expectations, before, after *state.SessionState) error {
	var failures []string
	failf := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	if exp.Relationship != nil && after.Relationship != *exp.Relationship {
		failf("relationship: expected %d, got %d", *exp.Relationship, after.Relationship)
	}
	if exp.RelationshipDelta != nil {
		if d := after.Relationship - before.Relationship; d != *exp.RelationshipDelta {
			failf("relationship delta: expected %+d, got %+d", *exp.RelationshipDelta, d)
		}
	}
	if exp.TurnCounter != nil && after.TurnCounter != *exp.TurnCounter {
		failf("turn_counter: expected %d, got %d", *exp.TurnCounter, after.TurnCounter)
	}
	for name, want := range exp.Flags {
		key, err := state.ParseFlagKey(name)
		if err != nil {
			failf("flags: %v", err)
			continue
		}
		if got := after.Flags.Get(key); got != want {
			failf("flag %s: expected %t, got %t", key, want, got)
		}
	}
	if exp.NPCStatus != nil && string(after.NPCStatus.Status) != *exp.NPCStatus {
		failf("npc_status: expected %q, got %q", *exp.NPCStatus, after.NPCStatus.Status)
	}

	if exp.Action != nil || exp.Topic != nil || exp.Locked != nil || len(exp.DegreeIn) > 0 {
		if len(after.Journal) == 0 {
			failf("journal: expected an entry for this turn, journal is empty")
		} else {
			entry := after.Journal[len(after.Journal)-1]
			if exp.Action != nil && entry.Action != *exp.Action {
				failf("journal action: expected %q, got %q", *exp.Action, entry.Action)
			}
			if exp.Topic != nil && entry.Topic != *exp.Topic {
				failf("journal topic: expected %q, got %q", *exp.Topic, entry.Topic)
			}
			if exp.Locked != nil && entry.Locked != *exp.Locked {
				failf("journal locked: expected %t, got %t", *exp.Locked, entry.Locked)
			}
			if len(exp.DegreeIn) > 0 && !slices.Contains(exp.DegreeIn, entry.Degree) {
				failf("journal degree: expected one of %v, got %q", exp.DegreeIn, entry.Degree)
			}
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%s", strings.Join(failures, "; "))
	}
	return nil
}
