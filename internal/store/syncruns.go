package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
)

// BeginSyncRun records that a run started and returns its id.
func (s *Store) BeginSyncRun(ctx context.Context, accountID uuid.UUID, trigger models.SyncTrigger, action models.SyncAction) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (account_id, trigger_by, action, state)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		accountID, trigger, action, models.StateFetchingKeys).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin sync run: %w", err)
	}
	return id, nil
}

// AdvanceSyncRun updates the run's pipeline state.
func (s *Store) AdvanceSyncRun(ctx context.Context, id uuid.UUID, state models.SyncState) error {
	_, err := s.pool.Exec(ctx, `UPDATE sync_runs SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("advance sync run: %w", err)
	}
	return nil
}

// FinishSyncRun terminates the run. summary may be nil on failure; errMsg is
// empty on success.
func (s *Store) FinishSyncRun(ctx context.Context, id uuid.UUID, state models.SyncState, summary *models.SyncSummary, errMsg string) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal sync summary: %w", err)
		}
	}
	var errArg *string
	if errMsg != "" {
		errArg = &errMsg
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_runs
		SET state = $2, summary = $3, error = $4, finished_at = now()
		WHERE id = $1`,
		id, state, summaryJSON, errArg)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns an account's most recent runs.
func (s *Store) ListSyncRuns(ctx context.Context, accountID uuid.UUID, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, trigger_by, action, state, summary, error, started_at, finished_at
		FROM sync_runs
		WHERE account_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var summaryJSON []byte
		if err := rows.Scan(&run.ID, &run.AccountID, &run.Trigger, &run.Action, &run.State, &summaryJSON, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		if len(summaryJSON) > 0 {
			var summary models.SyncSummary
			if err := json.Unmarshal(summaryJSON, &summary); err != nil {
				return nil, fmt.Errorf("decode sync summary: %w", err)
			}
			run.Summary = &summary
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
