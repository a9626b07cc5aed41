// Package accounts resolves channel identifiers (phone numbers, chat ids) to
// registered product accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/db"
)

// ErrNotFound is returned for senders with no registered account. The caller
// replies with registration guidance and creates no server-side state.
var ErrNotFound = errors.New("account not found")

// Service provides read-only account lookups.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "accounts")),
	}
}

const accountColumns = `id, display_name, phone_number, telegram_chat_id,
	credits_remaining, notify_whatsapp, notify_telegram, created_at`

// ResolveByChannel maps a channel-specific sender identifier to an account.
func (s *Service) ResolveByChannel(ctx context.Context, provider channel.Provider, senderChannelID string) (Account, error) {
	if s.pool == nil {
		return Account{}, errors.New("accounts service not configured")
	}
	var column string
	switch provider {
	case channel.ProviderWhatsApp:
		column = "phone_number"
	case channel.ProviderTelegram:
		column = "telegram_chat_id"
	default:
		return Account{}, fmt.Errorf("unsupported provider: %s", provider)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`,
		senderChannelID,
	)
	return scanAccount(row)
}

// Get returns an account by internal id. Used by the credits re-check at
// image submission time.
func (s *Service) Get(ctx context.Context, accountID string) (Account, error) {
	if s.pool == nil {
		return Account{}, errors.New("accounts service not configured")
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		accountID,
	)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a       Account
		id      pgtype.UUID
		phone   pgtype.Text
		chatID  pgtype.Text
		created pgtype.Timestamptz
	)
	err := row.Scan(&id, &a.DisplayName, &phone, &chatID,
		&a.CreditsRemaining, &a.NotifyWhatsApp, &a.NotifyTelegram, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("account lookup: %w", err)
	}
	if id.Valid {
		a.ID = uuid.UUID(id.Bytes).String()
	}
	a.PhoneNumber = db.TextToString(phone)
	a.TelegramChatID = db.TextToString(chatID)
	a.CreatedAt = db.TimeFromPg(created)
	return a, nil
}
