package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
)

const usageColumns = `id, api_key_id, period_start, token_usage_daily, token_usage_monthly,
	token_usage_total, prompt_tokens_total, completion_tokens_total, cache_read_tokens_total,
	cache_creation_tokens_total, cost_cents, sync_status, synced_at`

func scanUsage(row interface{ Scan(...any) error }) (models.UsageRecord, error) {
	var u models.UsageRecord
	err := row.Scan(&u.ID, &u.APIKeyID, &u.PeriodStart, &u.TokenUsageDaily, &u.TokenUsageMonthly,
		&u.TokenUsageTotal, &u.PromptTokensTotal, &u.CompletionTokensTotal, &u.CacheReadTokensTotal,
		&u.CacheCreationTokensTotal, &u.CostCents, &u.SyncStatus, &u.SyncedAt)
	return u, mapErr(err)
}

// UpsertUsageRecord writes one key's monthly totals in a single atomic
// statement. The conflict branch replaces only usage-derived columns, so a
// row racing two syncs converges on whichever write lands last.
func (s *Store) UpsertUsageRecord(ctx context.Context, u models.UsageRecord) (models.UsageRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO usage_records (api_key_id, period_start, token_usage_daily, token_usage_monthly,
			token_usage_total, prompt_tokens_total, completion_tokens_total, cache_read_tokens_total,
			cache_creation_tokens_total, cost_cents, sync_status, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (api_key_id, period_start) DO UPDATE
		SET token_usage_daily = EXCLUDED.token_usage_daily,
		    token_usage_monthly = EXCLUDED.token_usage_monthly,
		    token_usage_total = EXCLUDED.token_usage_total,
		    prompt_tokens_total = EXCLUDED.prompt_tokens_total,
		    completion_tokens_total = EXCLUDED.completion_tokens_total,
		    cache_read_tokens_total = EXCLUDED.cache_read_tokens_total,
		    cache_creation_tokens_total = EXCLUDED.cache_creation_tokens_total,
		    cost_cents = EXCLUDED.cost_cents,
		    sync_status = EXCLUDED.sync_status,
		    synced_at = EXCLUDED.synced_at
		RETURNING `+usageColumns,
		u.APIKeyID, u.PeriodStart, u.TokenUsageDaily, u.TokenUsageMonthly,
		u.TokenUsageTotal, u.PromptTokensTotal, u.CompletionTokensTotal, u.CacheReadTokensTotal,
		u.CacheCreationTokensTotal, u.CostCents, u.SyncStatus, u.SyncedAt)
	out, err := scanUsage(row)
	if err != nil {
		return models.UsageRecord{}, fmt.Errorf("upsert usage record: %w", err)
	}
	return out, nil
}

// ListUsageByKey returns a key's usage rows in period order.
func (s *Store) ListUsageByKey(ctx context.Context, apiKeyID uuid.UUID) ([]models.UsageRecord, error) {
	return s.collectUsage(ctx, `
		SELECT `+usageColumns+`
		FROM usage_records
		WHERE api_key_id = $1
		ORDER BY period_start`, apiKeyID)
}

// ListUsageByTenant returns usage rows for a tenant's keys within
// [from, to), joined through api_keys.
func (s *Store) ListUsageByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]models.UsageRecord, error) {
	return s.collectUsage(ctx, `
		SELECT `+qualifiedUsageColumns+`
		FROM usage_records u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.tenant_id = $1 AND u.period_start >= $2 AND u.period_start < $3
		ORDER BY u.period_start, u.api_key_id`, tenantID, from, to)
}

const qualifiedUsageColumns = `u.id, u.api_key_id, u.period_start, u.token_usage_daily, u.token_usage_monthly,
	u.token_usage_total, u.prompt_tokens_total, u.completion_tokens_total, u.cache_read_tokens_total,
	u.cache_creation_tokens_total, u.cost_cents, u.sync_status, u.synced_at`

func (s *Store) collectUsage(ctx context.Context, query string, args ...any) ([]models.UsageRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, u)
	}
	return records, rows.Err()
}
