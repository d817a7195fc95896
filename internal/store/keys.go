package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
)

const keyColumns = `id, tenant_id, platform, platform_account_id, provider_key_id, name, status,
	key_prefix, key_suffix, workspace_id, owner, business_tag, last_synced_at, created_at, updated_at`

func scanKey(row interface{ Scan(...any) error }) (models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.TenantID, &k.Platform, &k.PlatformAccountID, &k.ProviderKeyID,
		&k.Name, &k.Status, &k.KeyPrefix, &k.KeySuffix, &k.WorkspaceID, &k.Owner,
		&k.BusinessTag, &k.LastSyncedAt, &k.CreatedAt, &k.UpdatedAt)
	return k, mapErr(err)
}

func (s *Store) collectKeys(ctx context.Context, query string, args ...any) ([]models.APIKey, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListKeysByAccount returns the tracked keys for one provider account,
// including inactive ones so the reconciler sees the full local set.
func (s *Store) ListKeysByAccount(ctx context.Context, accountID uuid.UUID) ([]models.APIKey, error) {
	keys, err := s.collectKeys(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE platform_account_id = $1
		ORDER BY created_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list keys by account: %w", err)
	}
	return keys, nil
}

// ListKeysByTenant returns a tenant's keys for the dashboard listing.
func (s *Store) ListKeysByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.APIKey, error) {
	keys, err := s.collectKeys(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE tenant_id = $1
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list keys by tenant: %w", err)
	}
	return keys, nil
}

// InsertKey persists a newly discovered provider key. A concurrent sync
// inserting the same (platform, account, provider_key_id) surfaces as
// ErrDuplicate, which callers treat as already-reconciled.
func (s *Store) InsertKey(ctx context.Context, k models.APIKey) (models.APIKey, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (tenant_id, platform, platform_account_id, provider_key_id,
			name, status, key_prefix, key_suffix, workspace_id, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+keyColumns,
		k.TenantID, k.Platform, k.PlatformAccountID, k.ProviderKeyID,
		k.Name, k.Status, k.KeyPrefix, k.KeySuffix, k.WorkspaceID, k.LastSyncedAt)
	out, err := scanKey(row)
	if err != nil {
		return models.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return out, nil
}

// UpdateKeyPatch applies provider-owned fields from a list sync. Owner and
// business tag are user-edited and never touched here.
func (s *Store) UpdateKeyPatch(ctx context.Context, p models.APIKeyPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET name = $2,
		    status = $3,
		    workspace_id = COALESCE($4, workspace_id),
		    last_synced_at = $5,
		    updated_at = now()
		WHERE id = $1`,
		p.ID, p.Name, p.Status, p.WorkspaceID, p.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
