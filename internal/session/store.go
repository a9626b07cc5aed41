package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrodiag/agrodiag/internal/db"
)

// Store is the session repository the conversation machine is injected with.
// Get must treat an expired row as absent (lazy delete); Put upserts with
// last-write-wins semantics and refreshes the expiry window.
type Store interface {
	Get(ctx context.Context, senderChannelID string) (Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, senderChannelID string) error
}

// PGStore implements Store on the conversation_sessions table.
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
		logger: log.With(slog.String("store", "session")),
	}
}

// Get loads the active session for a sender. An expired row is deleted in
// passing and reported as ErrNotFound.
func (s *PGStore) Get(ctx context.Context, senderChannelID string) (Session, error) {
	if s.pool == nil {
		return Session{}, errors.New("session store not configured")
	}
	row := s.pool.QueryRow(ctx,
		`SELECT sender_channel_id, account_id, state, crop_name, user_notes, expires_at, last_activity_at
		 FROM conversation_sessions
		 WHERE sender_channel_id = $1`,
		senderChannelID,
	)
	var (
		sess      Session
		accountID pgtype.UUID
		state     string
		cropName  pgtype.Text
		userNotes pgtype.Text
		expiresAt pgtype.Timestamptz
		lastAt    pgtype.Timestamptz
	)
	if err := row.Scan(&sess.SenderChannelID, &accountID, &state, &cropName, &userNotes, &expiresAt, &lastAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("session get: %w", err)
	}
	if accountID.Valid {
		sess.AccountID = uuidString(accountID)
	}
	sess.State = State(state)
	sess.CropName = db.TextToString(cropName)
	sess.UserNotes = db.TextToString(userNotes)
	sess.ExpiresAt = db.TimeFromPg(expiresAt)
	sess.LastActivityAt = db.TimeFromPg(lastAt)

	if sess.Expired(time.Now().UTC()) {
		if err := s.Delete(ctx, senderChannelID); err != nil {
			s.logger.Warn("lazy expiry delete failed",
				slog.String("sender", senderChannelID),
				slog.Any("error", err),
			)
		}
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// Put upserts the session row. Contention is per-sender only, so
// last-write-wins is acceptable without explicit locking.
func (s *PGStore) Put(ctx context.Context, sess Session) error {
	if s.pool == nil {
		return errors.New("session store not configured")
	}
	var accountID any
	if sess.AccountID != "" {
		accountID = sess.AccountID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_sessions
		   (sender_channel_id, account_id, state, crop_name, user_notes, expires_at, last_activity_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (sender_channel_id) DO UPDATE SET
		   account_id = EXCLUDED.account_id,
		   state = EXCLUDED.state,
		   crop_name = EXCLUDED.crop_name,
		   user_notes = EXCLUDED.user_notes,
		   expires_at = EXCLUDED.expires_at,
		   last_activity_at = EXCLUDED.last_activity_at,
		   updated_at = now()`,
		sess.SenderChannelID,
		accountID,
		string(sess.State),
		db.TextOrNull(sess.CropName),
		db.TextOrNull(sess.UserNotes),
		sess.ExpiresAt,
		sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

// Delete removes a sender's session. Deleting an absent row is not an error.
func (s *PGStore) Delete(ctx context.Context, senderChannelID string) error {
	if s.pool == nil {
		return errors.New("session store not configured")
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_sessions WHERE sender_channel_id = $1`,
		senderChannelID,
	); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// DeleteExpired reclaims all sessions past expiry; called by the sweep.
func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.pool == nil {
		return 0, errors.New("session store not configured")
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_sessions WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
