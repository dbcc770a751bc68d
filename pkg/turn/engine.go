// Package turn runs one dialogue turn end to end: classify the utterance,
// resolve the check, apply the narrative lock, commit the new checkpoint and
// build the instruction envelope.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/envelope"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/lock"
	"github.com/jwebster45206/dialogue-engine/pkg/mechanics"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
)

var (
	// ErrTurnFailed is returned when every commit attempt hit a version conflict.
	ErrTurnFailed = errors.New("turn failed")
	// ErrSessionExists is returned by NewSession for a slot that already has a checkpoint.
	ErrSessionExists = errors.New("session already exists")
)

// BusyPolicy decides what Play does when another turn holds the slot.
type BusyPolicy string

const (
	BusyFail BusyPolicy = "fail"
	BusyWait BusyPolicy = "wait"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxCommitAttempts = 3
	DefaultBusyRetryDelay    = 100 * time.Millisecond
)

// Config tunes an Engine. Zero values pick the defaults.
type Config struct {
	MaxCommitAttempts int
	LeaseTTL          time.Duration
	BusyPolicy        BusyPolicy
	BusyRetryDelay    time.Duration
	ClassifierTimeout time.Duration
	// Seed is the base every per-turn dice seed is derived from.
	Seed int64
	// NewSource builds the dice source for a turn seed. Defaults to dice.NewSource.
	NewSource func(seed int64) dice.Source
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxCommitAttempts <= 0 {
		c.MaxCommitAttempts = DefaultMaxCommitAttempts
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = storage.DefaultLeaseTTL
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = BusyFail
	}
	if c.BusyRetryDelay <= 0 {
		c.BusyRetryDelay = DefaultBusyRetryDelay
	}
	if c.NewSource == nil {
		c.NewSource = dice.NewSource
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Result is what a committed turn produced.
type Result struct {
	Envelope envelope.Envelope       `json:"envelope"`
	Intent   intent.ClassifiedIntent `json:"intent"`
	Outcome  dice.Outcome            `json:"outcome"`
	Decision lock.Decision           `json:"decision"`
	State    *state.SessionState     `json:"state"`
	TurnID   string                  `json:"turn_id"`
	Noop     bool                    `json:"noop"`
	Attempts int                     `json:"attempts"`
	Stages   []Stage                 `json:"stages"`
}

// Engine plays turns against a session store.
type Engine struct {
	store      storage.Storage
	classifier intent.Classifier
	rules      *mechanics.Engine
	lock       *lock.Lock
	cfg        Config
	logger     *slog.Logger
}

// NewEngine wires the turn pipeline. classifier is the raw provider; it is
// wrapped in an intent.Guard per turn.
func NewEngine(store storage.Storage, classifier intent.Classifier, rules *mechanics.Engine, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = mechanics.NewEngine(nil, logger)
	}
	return &Engine{
		store:      store,
		classifier: classifier,
		rules:      rules,
		lock:       lock.New(rules.NPC()),
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Store returns the session store the engine commits to.
func (e *Engine) Store() storage.Storage {
	return e.store
}

// NewSession creates the first checkpoint for slot.
func (e *Engine) NewSession(ctx context.Context, slot string) (*state.SessionState, error) {
	if err := storage.ValidateSlot(slot); err != nil {
		return nil, err
	}
	s := state.NewSessionState(slot, e.cfg.Now())
	if err := e.store.CompareAndSwap(ctx, slot, 0, s); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, slot)
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.logger.Info("Session created", "slot", slot)
	return s, nil
}

// Play runs one turn for utterance using the engine's classifier.
func (e *Engine) Play(ctx context.Context, slot, utterance string) (*Result, error) {
	return e.play(ctx, slot, utterance, e.classifier)
}

// PlayClassified runs one turn whose classification was already made
// upstream. The classification is still validated.
func (e *Engine) PlayClassified(ctx context.Context, slot, utterance string, raw intent.Classification) (*Result, error) {
	return e.play(ctx, slot, utterance, intent.Fixed(raw))
}

func (e *Engine) play(ctx context.Context, slot, utterance string, provider intent.Classifier) (*Result, error) {
	lease, err := e.checkout(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer func() {
		// release even when ctx was cancelled mid-turn
		if err := e.store.Release(context.WithoutCancel(ctx), lease); err != nil {
			e.logger.Warn("Failed to release slot lease", "slot", slot, "error", err)
		}
	}()

	guard := intent.NewGuard(provider, e.cfg.ClassifierTimeout, e.logger)
	m := newMachine()

	var lastConflict error
	for attempt := 1; attempt <= e.cfg.MaxCommitAttempts; attempt++ {
		res, err := e.attempt(ctx, m, guard, slot, utterance)
		if err == nil {
			res.Attempts = attempt
			res.Stages = m.trace
			return res, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			m.reset()
			return nil, err
		}
		lastConflict = err
		e.logger.Warn("Commit conflict, replaying turn",
			"slot", slot,
			"attempt", attempt,
			"error", err)
	}

	e.logger.Error("Turn abandoned after repeated conflicts",
		"slot", slot,
		"attempts", e.cfg.MaxCommitAttempts)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrTurnFailed, e.cfg.MaxCommitAttempts, lastConflict)
}

// attempt runs the stages once against freshly loaded state. On a version
// conflict the machine is left in Committing so the retry can re-enter
// Classifying.
func (e *Engine) attempt(ctx context.Context, m *machine, guard *intent.Guard, slot, utterance string) (*Result, error) {
	cur, err := e.store.Load(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	turnNo := cur.TurnCounter + 1
	turnID := fmt.Sprintf("%s#%d", slot, turnNo)
	log := e.logger.With("slot", slot, "turn_id", turnID)
	noop := strings.TrimSpace(utterance) == ""

	if err := m.advance(StageClassifying); err != nil {
		return nil, err
	}
	ci := intent.None()
	if !noop {
		ci, err = guard.Classify(ctx, utterance, intent.SnapshotOf(cur))
		if err != nil {
			return nil, err
		}
	}
	log.Debug("Intent classified", "stage", StageClassifying, "intent", ci.String(), "noop", noop)

	if err := m.advance(StageResolving); err != nil {
		return nil, err
	}
	res := mechanics.Resolution{Outcome: dice.NoCheck()}
	if !noop {
		rules := e.rules.WithSource(e.cfg.NewSource(dice.SeedFor(e.cfg.Seed, turnID)))
		res, err = rules.Evaluate(ci, cur)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve turn: %w", err)
		}
	}

	if err := m.advance(StageLocking); err != nil {
		return nil, err
	}
	var decision lock.Decision
	if !noop {
		decision = e.lock.Check(ci, res.Outcome, cur, turnID)
	}
	outcome := res.Outcome
	outcome.LockTriggered = decision.Locked

	delta := res.Delta.Clone()
	if decision.Disclosed {
		delta.SetFlag(state.FlagSecretRevealed, true)
	}
	delta.Notes = append(delta.Notes, decision.Audit...)

	if err := m.advance(StageCommitting); err != nil {
		return nil, err
	}
	nextState := cur.Clone()
	state.NewDeltaWorker(nextState, &delta, turnNo, log).Apply()
	nextState.TurnCounter = turnNo
	now := e.cfg.Now().UTC()
	if noop {
		nextState.NoopTurns++
	} else {
		nextState.AppendJournal(state.JournalEntry{
			Timestamp: now,
			TurnID:    turnID,
			Turn:      turnNo,
			Action:    string(ci.Action),
			Topic:     ci.Topic,
			Degree:    string(outcome.Degree),
			Locked:    decision.Locked,
			Summary:   summarize(ci, outcome),
			Notes:     delta.Notes,
		})
	}
	nextState.UpdatedAt = now

	if err := nextState.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.CompareAndSwap(ctx, slot, cur.CheckpointVersion, nextState); err != nil {
		return nil, err
	}
	if err := m.advance(StageIdle); err != nil {
		return nil, err
	}

	log.Info("Turn committed",
		"version", nextState.CheckpointVersion,
		"outcome", outcome.String(),
		"locked", decision.Locked,
		"relationship", nextState.Relationship)

	env := envelope.Build(envelope.Params{
		TurnID:   turnID,
		NPC:      e.rules.NPC(),
		State:    nextState,
		Decision: decision,
		Lock:     e.lock,
	})
	return &Result{
		Envelope: env,
		Intent:   ci,
		Outcome:  outcome,
		Decision: decision,
		State:    nextState,
		TurnID:   turnID,
		Noop:     noop,
	}, nil
}

func (e *Engine) checkout(ctx context.Context, slot string) (storage.Lease, error) {
	for {
		lease, err := e.store.Checkout(ctx, slot, e.cfg.LeaseTTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, storage.ErrSlotBusy) || e.cfg.BusyPolicy != BusyWait {
			return storage.Lease{}, err
		}
		select {
		case <-ctx.Done():
			return storage.Lease{}, fmt.Errorf("waiting for slot %s: %w", slot, ctx.Err())
		case <-time.After(e.cfg.BusyRetryDelay):
		}
	}
}

// summarize renders the one-line journal summary for a turn.
func summarize(ci intent.ClassifiedIntent, o dice.Outcome) string {
	if ci.Topic == "" {
		return fmt.Sprintf("%s: %s", ci.Action, o)
	}
	return fmt.Sprintf("%s about %s: %s", ci.Action, ci.Topic, o)
}
