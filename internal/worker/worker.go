package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/envelope"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	queuePkg "github.com/jwebster45206/dialogue-engine/pkg/queue"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/turn"
)

const (
	defaultDequeueTimeout = 5 * time.Second
	errorBackoff          = 1 * time.Second
	defaultBusyBackoff    = 250 * time.Millisecond
	claimTTL              = 2 * time.Minute
)

// errRequeued marks a request that went back to the head of its slot's
// queue because the slot was checked out elsewhere.
var errRequeued = errors.New("slot busy, request requeued")

// RequestQueue is the part of the turn queue a worker consumes. A loop
// claims a slot and drains its requests in order; see queue.TurnQueue.
type RequestQueue interface {
	NextSlot(ctx context.Context, timeout time.Duration) (string, error)
	Notify(ctx context.Context, slot string) error
	Claim(ctx context.Context, slot, owner string, ttl time.Duration) (bool, error)
	Next(ctx context.Context, slot, owner string, ttl time.Duration) (*queuePkg.Request, error)
	PushFront(ctx context.Context, req *queuePkg.Request) error
	Yield(ctx context.Context, slot, owner string) error
}

// Publisher announces turn results to subscribers of a slot.
type Publisher interface {
	PublishTurnCommitted(ctx context.Context, requestID string, env envelope.Envelope, outcome dice.Outcome) error
	PublishTurnFailed(ctx context.Context, slot, requestID string, turnErr error, retryable bool) error
}

// Player runs dialogue turns. *turn.Engine implements it.
type Player interface {
	Play(ctx context.Context, slot, utterance string) (*turn.Result, error)
	PlayClassified(ctx context.Context, slot, utterance string, raw intent.Classification) (*turn.Result, error)
}

// Worker processes turn requests from the queue. Several loops run in
// parallel across slots; a slot's requests are drained by one loop at a time.
type Worker struct {
	id             string
	queue          RequestQueue
	player         Player
	publisher      Publisher
	concurrency    int
	dequeueTimeout time.Duration
	busyBackoff    time.Duration
	log            *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
}

// New creates a new worker instance
func New(q RequestQueue, player Player, publisher Publisher, concurrency int, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		id:             workerID,
		queue:          q,
		player:         player,
		publisher:      publisher,
		concurrency:    concurrency,
		dequeueTimeout: defaultDequeueTimeout,
		busyBackoff:    defaultBusyBackoff,
		log:            log.With("worker_id", workerID),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ID returns the worker id used in logs.
func (w *Worker) ID() string {
	return w.id
}

// Start processes requests until Stop is called. It returns once every
// loop has finished its current turn.
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(w.ctx)
	for i := range w.concurrency {
		g.Go(func() error {
			return w.run(ctx, i)
		})
	}
	err := g.Wait()
	w.log.Info("Worker shut down")
	return err
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested")
	w.cancel()
}

func (w *Worker) run(ctx context.Context, loop int) error {
	owner := fmt.Sprintf("%s/%d", w.id, loop)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.processNextSlot(ctx, owner); err != nil {
			w.log.Error("Error processing request", "error", err, "loop", loop)
			// Continue processing even on error
			w.pause(ctx, errorBackoff)
		}
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processNextSlot takes the next slot notice and, if the slot is free,
// plays its queued requests in order.
func (w *Worker) processNextSlot(ctx context.Context, owner string) error {
	slot, err := w.queue.NextSlot(ctx, w.dequeueTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dequeue slot: %w", err)
	}
	if slot == "" {
		// Queue is empty or timeout occurred - this is normal
		return nil
	}

	claimed, err := w.queue.Claim(ctx, slot, owner, claimTTL)
	if err != nil {
		if nerr := w.queue.Notify(context.WithoutCancel(ctx), slot); nerr != nil {
			w.log.Error("Failed to return slot notice", "slot", slot, "error", nerr)
		}
		return err
	}
	if !claimed {
		// another loop is draining this slot; hand the notice back later
		w.pause(ctx, w.busyBackoff)
		return w.queue.Notify(context.WithoutCancel(ctx), slot)
	}
	return w.drain(ctx, slot, owner)
}

// drain plays a claimed slot's requests until its queue is empty.
func (w *Worker) drain(ctx context.Context, slot, owner string) error {
	yield := func() error {
		return w.queue.Yield(context.WithoutCancel(ctx), slot, owner)
	}

	for {
		if ctx.Err() != nil {
			return yield()
		}
		req, err := w.queue.Next(ctx, slot, owner, claimTTL)
		if err != nil {
			if errors.Is(err, queuePkg.ErrClaimLost) {
				w.log.Warn("Slot claim expired while draining", "slot", slot)
				return nil
			}
			if yerr := yield(); yerr != nil {
				w.log.Error("Failed to yield slot", "slot", slot, "error", yerr)
			}
			return err
		}
		if req == nil {
			// drained; Next released the claim
			return nil
		}

		w.log.Info("Received request from queue",
			"request_id", req.RequestID,
			"slot", req.Slot,
		)
		err = w.processRequest(ctx, req)
		if errors.Is(err, errRequeued) {
			if err := yield(); err != nil {
				return err
			}
			w.pause(ctx, w.busyBackoff)
			return nil
		}
		if err != nil {
			if yerr := yield(); yerr != nil {
				w.log.Error("Failed to yield slot", "slot", slot, "error", yerr)
			}
			return err
		}
	}
}

// processRequest plays one turn and publishes the result.
func (w *Worker) processRequest(ctx context.Context, req *queuePkg.Request) error {
	start := time.Now()
	log := w.log.With("request_id", req.RequestID, "slot", req.Slot)

	var (
		res *turn.Result
		err error
	)
	if req.Classification != nil {
		res, err = w.player.PlayClassified(ctx, req.Slot, req.Utterance, *req.Classification)
	} else {
		res, err = w.player.Play(ctx, req.Slot, req.Utterance)
	}

	if errors.Is(err, storage.ErrSlotBusy) {
		// Checked out outside the queue; keep the request first in line
		log.Info("Slot busy, re-queueing request", "requeues", req.Requeues)
		if err := w.queue.PushFront(context.WithoutCancel(ctx), req); err != nil {
			return fmt.Errorf("failed to re-queue request: %w", err)
		}
		return errRequeued
	}

	if err != nil {
		retryable := errors.Is(err, intent.ErrClassifierUnavailable) || errors.Is(err, turn.ErrTurnFailed)
		log.Error("Turn failed", "error", err, "retryable", retryable)
		if pubErr := w.publisher.PublishTurnFailed(context.WithoutCancel(ctx), req.Slot, req.RequestID, err, retryable); pubErr != nil {
			log.Error("Failed to publish failure event", "error", pubErr)
		}
		return nil
	}

	log.Info("Turn processed successfully",
		"turn_id", res.TurnID,
		"attempts", res.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err := w.publisher.PublishTurnCommitted(context.WithoutCancel(ctx), req.RequestID, res.Envelope, res.Outcome); err != nil {
		log.Error("Failed to publish completion event", "error", err)
	}
	return nil
}
