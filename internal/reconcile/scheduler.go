package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantdesk/mirror-api/internal/ledger"
)

// Scheduler sweeps every active account through a sync attempt on a
// fixed interval. An account already syncing is skipped, not queued;
// the next sweep picks it up.
type Scheduler struct {
	engine   *Engine
	db       *ledger.Database
	interval time.Duration
}

func NewScheduler(engine *Engine, db *ledger.Database, interval time.Duration) *Scheduler {
	return &Scheduler{engine: engine, db: db, interval: interval}
}

// Start begins the sweep loop. Returns immediately when the interval
// is zero.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "sync_scheduler").Logger()
	if s.interval <= 0 {
		logger.Info().Msg("background sync disabled")
		return
	}
	logger.Info().Dur("interval", s.interval).Msg("starting sync scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down sync scheduler")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	logger := log.With().Str("component", "sync_scheduler").Logger()

	accounts, err := s.db.ListActiveAccounts()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list accounts for sweep")
		return
	}
	logger.Debug().Int("accounts", len(accounts)).Msg("sweeping accounts")

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.engine.SyncAccount(ctx, account.AccountID); err != nil {
			if err == ErrSyncInProgress {
				continue
			}
			logger.Error().Err(err).
				Str("account_id", account.AccountID).
				Msg("background sync failed")
		}
	}
}
