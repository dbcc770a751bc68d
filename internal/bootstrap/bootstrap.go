// Package bootstrap wires a turn engine and its store from configuration.
// The api, worker and slotctl binaries share it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/dialogue-engine/internal/classifier"
	"github.com/jwebster45206/dialogue-engine/internal/config"
	sqlstore "github.com/jwebster45206/dialogue-engine/internal/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/actor"
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/intent"
	"github.com/jwebster45206/dialogue-engine/pkg/mechanics"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
	"github.com/jwebster45206/dialogue-engine/pkg/turn"
)

// connectTimeout bounds how long startup waits for the store.
const connectTimeout = 2 * time.Minute

// OpenStore opens the backend named by cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("Using in-memory store; sessions are lost on exit")
		return storage.NewMemoryStorage(), nil

	case config.BackendRedis:
		rs, err := sqlstore.NewRedisStorage(cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := rs.WaitForConnection(waitCtx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rs, nil

	case config.BackendSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.SQLitePath, logger)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// NewEngine loads the cast and builds a turn engine over store. Without a
// CLASSIFIER_URL the engine only accepts pre-classified turns.
func NewEngine(cfg *config.Config, store storage.Storage, logger *slog.Logger) (*turn.Engine, error) {
	cast, err := actor.LoadCast(cfg.NPCProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to load NPC profile: %w", err)
	}

	var provider intent.Classifier
	if cfg.ClassifierURL != "" {
		provider = classifier.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
	} else {
		logger.Warn("CLASSIFIER_URL not set; only pre-classified turns will succeed")
	}

	seed := cfg.DiceSeed
	if seed == 0 {
		if seed, err = dice.NewSeed(); err != nil {
			return nil, fmt.Errorf("failed to draw dice seed: %w", err)
		}
	}

	logger.Info("Turn engine configured",
		"npc", cast.NPC.Profile.Name,
		"store", cfg.StoreBackend,
		"busy_policy", cfg.SlotBusyPolicy,
		"commit_attempts", cfg.CommitAttempts)

	return turn.NewEngine(store, provider, mechanics.NewEngine(cast, logger), turn.Config{
		MaxCommitAttempts: cfg.CommitAttempts,
		LeaseTTL:          cfg.SlotLeaseTTL,
		BusyPolicy:        turn.BusyPolicy(cfg.SlotBusyPolicy),
		ClassifierTimeout: cfg.ClassifierTimeout,
		Seed:              seed,
	}, logger), nil
}
