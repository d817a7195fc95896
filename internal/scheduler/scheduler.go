// Package scheduler drives periodic auto-syncs across all enabled provider
// accounts. Manual syncs via the API are unaffected by anything here.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/synclock"
)

// Syncer runs the usage pipeline for one account.
type Syncer interface {
	Run(ctx context.Context, account models.ProviderAccount, trigger models.SyncTrigger) (*models.SyncSummary, error)
}

// AccountSource lists the accounts eligible for auto-sync.
type AccountSource interface {
	ListEnabledAccounts(ctx context.Context) ([]models.ProviderAccount, error)
}

// Debouncer suppresses repeat auto-syncs inside the configured window.
type Debouncer interface {
	Debounce(ctx context.Context, accountID string, window time.Duration) (bool, error)
}

// Scheduler ticks at a fixed interval and runs the pipeline for every
// enabled account, skipping accounts that synced recently or are mid-run.
type Scheduler struct {
	accounts AccountSource
	syncer   Syncer
	debounce Debouncer
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

func New(accounts AccountSource, syncer Syncer, debounce Debouncer, interval, window time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		accounts: accounts,
		syncer:   syncer,
		debounce: debounce,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Run blocks until the context is canceled. An interval of zero disables
// auto-sync entirely.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("auto-sync disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	accounts, err := s.accounts.ListEnabledAccounts(ctx)
	if err != nil {
		s.logger.Error("auto-sync: list accounts", "error", err)
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		skip, err := s.debounce.Debounce(ctx, account.ID.String(), s.window)
		if err != nil {
			s.logger.Error("auto-sync: debounce check", "account_id", account.ID.String(), "error", err)
			continue
		}
		if skip {
			continue
		}

		if _, err := s.syncer.Run(ctx, account, models.SyncTriggerAuto); err != nil {
			// Another instance holding the lock is normal in a fleet.
			if errors.Is(err, synclock.ErrLocked) {
				continue
			}
			s.logger.Error("auto-sync: run", "account_id", account.ID.String(), "platform", string(account.Platform), "error", err)
		}
	}
}
