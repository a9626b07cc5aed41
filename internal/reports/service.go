// Package reports records completed diagnoses and serves the history command.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/db"
)

// Report is one completed diagnosis.
type Report struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Provider       string    `json:"provider"`
	CropName       string    `json:"crop_name"`
	Confidence     float64   `json:"confidence"`
	ReportMarkdown string    `json:"report_markdown"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and lists diagnosis reports.
type Store interface {
	Insert(ctx context.Context, r Report) (Report, error)
	ListRecent(ctx context.Context, accountID string, limit int) ([]Report, error)
}

// Service implements Store on the diagnosis_reports table.
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
		logger: log.With(slog.String("service", "reports")),
	}
}

// Insert stores a completed diagnosis. A missing id is generated.
func (s *Service) Insert(ctx context.Context, r Report) (Report, error) {
	if s.pool == nil {
		return Report{}, errors.New("reports service not configured")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, err := channel.ParseProvider(r.Provider); err != nil {
		return Report{}, err
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO diagnosis_reports (id, account_id, provider, crop_name, confidence, report_markdown)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		r.ID, r.AccountID, r.Provider, r.CropName, r.Confidence, r.ReportMarkdown,
	)
	var created pgtype.Timestamptz
	if err := row.Scan(&created); err != nil {
		return Report{}, fmt.Errorf("report insert: %w", err)
	}
	r.CreatedAt = db.TimeFromPg(created)
	return r, nil
}

// ListRecent returns the account's newest reports, newest first.
func (s *Service) ListRecent(ctx context.Context, accountID string, limit int) ([]Report, error) {
	if s.pool == nil {
		return nil, errors.New("reports service not configured")
	}
	if limit <= 0 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, provider, crop_name, confidence, report_markdown, created_at
		 FROM diagnosis_reports
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("report list: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0, limit)
	for rows.Next() {
		var (
			r       Report
			id      pgtype.UUID
			account pgtype.UUID
			created pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &account, &r.Provider, &r.CropName, &r.Confidence, &r.ReportMarkdown, &created); err != nil {
			return nil, fmt.Errorf("report scan: %w", err)
		}
		if id.Valid {
			r.ID = uuid.UUID(id.Bytes).String()
		}
		if account.Valid {
			r.AccountID = uuid.UUID(account.Bytes).String()
		}
		r.CreatedAt = db.TimeFromPg(created)
		items = append(items, r)
	}
	return items, rows.Err()
}
