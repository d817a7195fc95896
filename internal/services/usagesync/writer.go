package usagesync

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/timeutil"
)

// UsageStore is the slice of the persistence layer the writer needs.
type UsageStore interface {
	UpsertUsageRecord(ctx context.Context, u models.UsageRecord) (models.UsageRecord, error)
}

// WriteResult reports how a persist pass went. A failed record never stops
// the pass; its error is captured and the remaining records still get
// written.
type WriteResult struct {
	Saved  int
	Errors []models.SaveError
}

// Writer persists aggregated usage, one upsert per key.
type Writer struct {
	store         UsageStore
	maxSaveErrors int
}

func NewWriter(store UsageStore, maxSaveErrors int) *Writer {
	if maxSaveErrors <= 0 {
		maxSaveErrors = 50
	}
	return &Writer{store: store, maxSaveErrors: maxSaveErrors}
}

// Persist writes one monthly record per key in agg.Period. Records are keyed
// by (api key, first day of asOf's UTC month); daily totals come from
// agg.Today and are zero for keys with no usage today.
func (w *Writer) Persist(ctx context.Context, agg Aggregation, asOf time.Time) (WriteResult, error) {
	periodStart := timeutil.MonthStartUTC(asOf)
	syncedAt := asOf.UTC()

	keyIDs := make([]uuid.UUID, 0, len(agg.Period))
	for keyID := range agg.Period {
		keyIDs = append(keyIDs, keyID)
	}
	// Deterministic write order keeps retries and logs comparable.
	sortUUIDs(keyIDs)

	var result WriteResult
	for _, keyID := range keyIDs {
		period := agg.Period[keyID]
		today := agg.Today[keyID]

		record := models.UsageRecord{
			APIKeyID:                 keyID,
			PeriodStart:              periodStart,
			TokenUsageDaily:          today.TotalTokens,
			TokenUsageMonthly:        period.TotalTokens,
			TokenUsageTotal:          period.TotalTokens,
			PromptTokensTotal:        period.InputTokens,
			CompletionTokensTotal:    period.OutputTokens,
			CacheReadTokensTotal:     period.CacheReadTokens,
			CacheCreationTokensTotal: period.CacheCreationTokens,
			CostCents:                period.CostCents,
			SyncStatus:               models.SyncStatusSuccess,
			SyncedAt:                 syncedAt,
		}
		if _, err := w.store.UpsertUsageRecord(ctx, record); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if len(result.Errors) < w.maxSaveErrors {
				result.Errors = append(result.Errors, models.SaveError{
					APIKeyID:    keyID,
					PeriodStart: periodStart.Format("2006-01-02"),
					Message:     err.Error(),
				})
			}
			continue
		}
		result.Saved++
	}
	return result, nil
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
