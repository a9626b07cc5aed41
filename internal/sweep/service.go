// Package sweep runs the periodic reclamation jobs: expired conversation
// sessions and processed-message records past retention.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agrodiag/agrodiag/internal/boot"
)

const runTimeout = time.Minute

// SessionReaper deletes sessions whose expiry has passed.
type SessionReaper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DedupPruner deletes processed-message records older than a cutoff.
type DedupPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service schedules the sweep on a fixed interval. Expiry is otherwise lazy
// (checked on session read), so the sweep only bounds storage growth and
// reclaims sessions wedged in processing by a crashed handler.
type Service struct {
	cron      *cron.Cron
	sessions  SessionReaper
	processed DedupPruner
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func NewService(log *slog.Logger, sessions SessionReaper, processed DedupPruner, runtimeConfig *boot.RuntimeConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cron:      cron.New(),
		sessions:  sessions,
		processed: processed,
		interval:  runtimeConfig.SweepInterval,
		retention: runtimeConfig.DedupRetention,
		logger:    log.With(slog.String("service", "sweep")),
	}
}

// Start registers the recurring job and starts the scheduler.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), s.run); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (s *Service) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	now := time.Now().UTC()
	expired, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.Error("session sweep failed", slog.Any("error", err))
	}
	pruned, err := s.processed.PruneBefore(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.Error("dedup prune failed", slog.Any("error", err))
	}
	if expired > 0 || pruned > 0 {
		s.logger.Info("sweep complete",
			slog.Int64("sessions_expired", expired),
			slog.Int64("dedup_pruned", pruned),
		)
	}
}
