package turn

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition means the engine tried to skip or repeat a stage.
var ErrInvalidTransition = errors.New("invalid turn stage transition")

// Stage is one step of a dialogue turn.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageClassifying Stage = "classifying"
	StageResolving   Stage = "resolving"
	StageLocking     Stage = "locking"
	StageCommitting  Stage = "committing"
)

// next lists the single legal successor of every stage. A commit conflict
// sends Committing back to Classifying.
var next = map[Stage][]Stage{
	StageIdle:        {StageClassifying},
	StageClassifying: {StageResolving},
	StageResolving:   {StageLocking},
	StageLocking:     {StageCommitting},
	StageCommitting:  {StageIdle, StageClassifying},
}

// machine tracks the current stage of one turn and every stage visited.
type machine struct {
	stage Stage
	trace []Stage
}

func newMachine() *machine {
	return &machine{stage: StageIdle, trace: []Stage{StageIdle}}
}

func (m *machine) advance(to Stage) error {
	for _, s := range next[m.stage] {
		if s == to {
			m.stage = to
			m.trace = append(m.trace, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.stage, to)
}

// reset returns an aborted turn to Idle without recording a transition.
func (m *machine) reset() {
	m.stage = StageIdle
}
