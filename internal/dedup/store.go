// Package dedup provides the durable processed-message log that guarantees
// at-most-once business-logic execution over an at-least-once webhook channel.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrodiag/agrodiag/internal/db"
)

// ErrAlreadyProcessed signals that the dedup key was inserted before.
// Callers treat it as "already handled", not as a failure.
var ErrAlreadyProcessed = errors.New("message already processed")

// Store is the idempotency marker log. Mark must rely on a storage-level
// uniqueness constraint, never an in-memory check: webhook handlers can run
// on separate processes.
type Store interface {
	Seen(ctx context.Context, dedupKey string) (bool, error)
	Mark(ctx context.Context, dedupKey, senderChannelID string) error
}

// PGStore implements Store on the processed_messages table.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPGStore(log *slog.Logger, pool *pgxpool.Pool) *PGStore {
	if log == nil {
		log = slog.Default()
	}
	return &PGStore{
		pool:   pool,
		logger: log.With(slog.String("store", "dedup")),
	}
}

// Seen reports whether dedupKey has already been recorded.
func (s *PGStore) Seen(ctx context.Context, dedupKey string) (bool, error) {
	if s.pool == nil {
		return false, errors.New("dedup store not configured")
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_messages WHERE dedup_key = $1)`,
		dedupKey,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dedup seen: %w", err)
	}
	return exists, nil
}

// Mark records dedupKey as processed. A unique violation means a concurrent
// delivery won the race; it is surfaced as ErrAlreadyProcessed.
func (s *PGStore) Mark(ctx context.Context, dedupKey, senderChannelID string) error {
	if s.pool == nil {
		return errors.New("dedup store not configured")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_messages (dedup_key, sender_channel_id, processed_at)
		 VALUES ($1, $2, now())`,
		dedupKey, senderChannelID,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// PruneBefore deletes processed-message records older than cutoff. The log is
// append-only in the request path; only the retention sweep calls this.
func (s *PGStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.pool == nil {
		return 0, errors.New("dedup store not configured")
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processed_messages WHERE processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("dedup prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
