package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/models"
)

const accountColumns = `id, tenant_id, platform, name, admin_credential, enabled, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (models.ProviderAccount, error) {
	var a models.ProviderAccount
	err := row.Scan(&a.ID, &a.TenantID, &a.Platform, &a.Name, &a.AdminCredential, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	return a, mapErr(err)
}

// UpsertAccount reconciles one configured account into the database, keyed by
// (tenant, platform, name). Credentials and the enabled flag follow config.
func (s *Store) UpsertAccount(ctx context.Context, a models.ProviderAccount) (models.ProviderAccount, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO provider_accounts (tenant_id, platform, name, admin_credential, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, platform, name) DO UPDATE
		SET admin_credential = EXCLUDED.admin_credential,
		    enabled = EXCLUDED.enabled,
		    updated_at = now()
		RETURNING `+accountColumns,
		a.TenantID, a.Platform, a.Name, a.AdminCredential, a.Enabled)
	out, err := scanAccount(row)
	if err != nil {
		return models.ProviderAccount{}, fmt.Errorf("upsert account: %w", err)
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (models.ProviderAccount, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM provider_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListAccounts returns a tenant's accounts, newest first.
func (s *Store) ListAccounts(ctx context.Context, tenantID uuid.UUID) ([]models.ProviderAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM provider_accounts
		WHERE tenant_id = $1
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.ProviderAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListEnabledAccounts returns every syncable account across tenants, for the
// auto-sync scheduler.
func (s *Store) ListEnabledAccounts(ctx context.Context) ([]models.ProviderAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM provider_accounts
		WHERE enabled
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.ProviderAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
