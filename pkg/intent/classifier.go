package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

// ErrClassifierUnavailable is returned when the provider fails or does not
// answer in time. Nothing has been mutated when it is returned, so the turn
// can simply be retried.
var ErrClassifierUnavailable = errors.New("intent classifier unavailable")

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 5 * time.Second

// Snapshot is the read-only view of the session a classifier may use as
// context. It never includes the NPC's secret.
type Snapshot struct {
	Slot         string          `json:"slot"`
	Turn         int             `json:"turn"`
	Relationship int             `json:"relationship"`
	Flags        map[string]bool `json:"flags"`
}

// SnapshotOf builds a classifier snapshot from a session state.
func SnapshotOf(s *state.SessionState) Snapshot {
	snap := Snapshot{Flags: make(map[string]bool)}
	if s == nil {
		return snap
	}
	snap.Slot = s.Slot
	snap.Turn = s.TurnCounter + 1
	snap.Relationship = s.Relationship
	for k, v := range s.Flags {
		snap.Flags[string(k)] = v
	}
	return snap
}

// Classifier is implemented by intent classification providers.
type Classifier interface {
	Classify(ctx context.Context, utterance string, snap Snapshot) (Classification, error)
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, utterance string, snap Snapshot) (Classification, error)

func (f ClassifierFunc) Classify(ctx context.Context, utterance string, snap Snapshot) (Classification, error) {
	return f(ctx, utterance, snap)
}

// Fixed returns a classifier that always answers c. It is used when the
// utterance arrives already classified.
func Fixed(c Classification) Classifier {
	return ClassifierFunc(func(context.Context, string, Snapshot) (Classification, error) {
		return c, nil
	})
}

// Guard wraps a provider with a timeout and output validation.
type Guard struct {
	provider Classifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGuard wraps provider. A non-positive timeout uses DefaultTimeout.
func NewGuard(provider Classifier, timeout time.Duration, logger *slog.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{provider: provider, timeout: timeout, logger: logger}
}

// Classify asks the provider for a classification and validates it. Anomalies
// are logged and degrade the intent; provider errors and timeouts are
// returned wrapped in ErrClassifierUnavailable.
func (g *Guard) Classify(ctx context.Context, utterance string, snap Snapshot) (ClassifiedIntent, error) {
	if g.provider == nil {
		return ClassifiedIntent{}, fmt.Errorf("%w: no provider configured", ErrClassifierUnavailable)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type answer struct {
		raw Classification
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		raw, err := g.provider.Classify(cctx, utterance, snap)
		ch <- answer{raw, err}
	}()

	var raw Classification
	select {
	case <-cctx.Done():
		g.logger.Warn("Intent classification timed out",
			"slot", snap.Slot,
			"timeout", g.timeout.String())
		return ClassifiedIntent{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, cctx.Err())
	case a := <-ch:
		if a.err != nil {
			g.logger.Warn("Intent classification failed",
				"slot", snap.Slot,
				"error", a.err)
			return ClassifiedIntent{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, a.err)
		}
		raw = a.raw
	}

	ci, anomalies := Validate(raw)
	for _, an := range anomalies {
		g.logger.Warn("Classification anomaly",
			"slot", snap.Slot,
			"field", an.Field,
			"value", an.Value,
			"reason", an.Reason)
	}
	return ci, nil
}
