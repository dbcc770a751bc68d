package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwebster45206/dialogue-engine/internal/storage/migrations"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
	"github.com/jwebster45206/dialogue-engine/pkg/storage"
)

// SQLiteStorage keeps checkpoints in a local SQLite file. Every write is a
// single conditional statement.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Ensure SQLiteStorage implements Storage interface
var _ storage.Storage = (*SQLiteStorage)(nil)

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; conditional statements then never race
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("SQLite session store opened", "path", path)
	return &SQLiteStorage{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) Load(ctx context.Context, slot string) (*state.SessionState, error) {
	if err := storage.ValidateSlot(slot); err != nil {
		return nil, err
	}

	var (
		version int64
		data    string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, state FROM sessions WHERE slot = ?`, slot).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, slot)
	}
	if err != nil {
		s.logger.Error("Failed to load session", "slot", slot, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var st state.SessionState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		s.logger.Error("Failed to unmarshal session", "slot", slot, "error", err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	st.CheckpointVersion = version
	return &st, nil
}

func (s *SQLiteStorage) CompareAndSwap(ctx context.Context, slot string, expectedVersion int64, next *state.SessionState) error {
	if err := storage.CheckNext(slot, expectedVersion, next); err != nil {
		return err
	}

	written := *next
	written.CheckpointVersion = expectedVersion + 1
	data, err := json.Marshal(&written)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	now := s.now().UTC().UnixMilli()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (slot, version, state, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(slot) DO NOTHING
`, slot, written.CheckpointVersion, string(data), now)
	} else {
		res, err = s.db.ExecContext(ctx, `
UPDATE sessions SET version = ?, state = ?, updated_at = ?
WHERE slot = ? AND version = ?
`, written.CheckpointVersion, string(data), now, slot, expectedVersion)
	}
	if err != nil {
		s.logger.Error("Failed to save session", "slot", slot, "error", err)
		return fmt.Errorf("failed to save session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: slot %s is not at version %d", storage.ErrVersionConflict, slot, expectedVersion)
	}

	next.CheckpointVersion = written.CheckpointVersion
	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, slot string) error {
	if err := storage.ValidateSlot(slot); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE slot = ?`, slot); err != nil {
		s.logger.Error("Failed to delete session", "slot", slot, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slot_leases WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("failed to delete slot lease: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListSlots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot FROM sessions ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	slots := make([]string, 0)
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return slots, nil
}

func (s *SQLiteStorage) Checkout(ctx context.Context, slot string, ttl time.Duration) (storage.Lease, error) {
	if err := storage.ValidateSlot(slot); err != nil {
		return storage.Lease{}, err
	}
	if ttl <= 0 {
		ttl = storage.DefaultLeaseTTL
	}

	now := s.now()
	lease := storage.Lease{Slot: slot, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}

	// take the lease if it is free or has expired
	res, err := s.db.ExecContext(ctx, `
INSERT INTO slot_leases (slot, token, expires_at) VALUES (?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
WHERE slot_leases.expires_at <= ?
`, slot, lease.Token, lease.ExpiresAt.UTC().UnixMilli(), now.UTC().UnixMilli())
	if err != nil {
		s.logger.Error("Failed to acquire slot lease", "slot", slot, "error", err)
		return storage.Lease{}, fmt.Errorf("failed to acquire slot lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Lease{}, fmt.Errorf("failed to acquire slot lease: %w", err)
	}
	if n == 0 {
		return storage.Lease{}, fmt.Errorf("%w: %s", storage.ErrSlotBusy, slot)
	}
	return lease, nil
}

func (s *SQLiteStorage) Release(ctx context.Context, lease storage.Lease) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slot_leases WHERE slot = ? AND token = ?`, lease.Slot, lease.Token)
	if err != nil {
		s.logger.Error("Failed to release slot lease", "slot", lease.Slot, "error", err)
		return fmt.Errorf("failed to release slot lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to release slot lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrLeaseLost, lease.Slot)
	}
	return nil
}
