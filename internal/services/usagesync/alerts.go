package usagesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
)

// SyncAlert is the post-sync notification payload, emitted once a run has
// successfully persisted usage. Sinks still accept an Error so they can be
// driven directly by other callers.
type SyncAlert struct {
	AccountID   uuid.UUID
	AccountName string
	Platform    models.Platform
	Trigger     models.SyncTrigger
	State       models.SyncState
	Summary     *models.SyncSummary
	Error       string
	Timestamp   time.Time
}

type AlertSink interface {
	Notify(ctx context.Context, alert SyncAlert) error
}

// LogAlertSink writes the alert to structured logs. It is the always-on
// fallback when no webhook is configured.
type LogAlertSink struct {
	logger *slog.Logger
}

func NewLogAlertSink(logger *slog.Logger) *LogAlertSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlertSink{logger: logger}
}

func (s *LogAlertSink) Notify(ctx context.Context, alert SyncAlert) error {
	if s == nil {
		return nil
	}
	attrs := []any{
		"account_id", alert.AccountID.String(),
		"account", alert.AccountName,
		"platform", string(alert.Platform),
		"trigger", string(alert.Trigger),
		"state", string(alert.State),
	}
	if alert.Summary != nil {
		attrs = append(attrs,
			"saved", alert.Summary.SavedCount,
			"matched_keys", alert.Summary.MatchedKeysCount,
			"unmatched_keys", alert.Summary.UnmatchedKeysCount,
			"save_errors", alert.Summary.SaveErrorsCount,
		)
	}
	if alert.Error != "" {
		attrs = append(attrs, "error", alert.Error)
		s.logger.ErrorContext(ctx, "usage sync failed", attrs...)
		return nil
	}
	s.logger.InfoContext(ctx, "usage sync completed", attrs...)
	return nil
}
