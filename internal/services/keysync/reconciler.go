// Package keysync reconciles provider key listings against the local
// registry. Matching is by provider_key_id only: names are mutable on every
// provider console and must never be used as a join key.
package keysync

import (
	"time"

	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/providers"
)

// Plan is the computed difference between a provider listing and the local
// registry. Inserts are keys seen for the first time; Updates refresh the
// provider-owned fields of known keys. Local keys absent from the listing
// are left untouched (providers drop revoked keys from listings, and a
// transient listing gap must not flip local state).
type Plan struct {
	Inserts []models.APIKey
	Updates []models.APIKeyPatch
}

// Reconcile computes the sync plan for one account. now stamps
// last_synced_at on every key present in the listing.
func Reconcile(account models.ProviderAccount, providerKeys []models.ProviderKey, localKeys []models.APIKey, now time.Time) Plan {
	local := make(map[string]models.APIKey, len(localKeys))
	for _, k := range localKeys {
		if k.ProviderKeyID == nil || *k.ProviderKeyID == "" {
			// Manually imported keys have no provider identity.
			continue
		}
		local[*k.ProviderKeyID] = k
	}

	var plan Plan
	for _, pk := range providerKeys {
		if pk.ProviderKeyID == "" {
			continue
		}
		existing, ok := local[pk.ProviderKeyID]
		if !ok {
			prefix, suffix := providers.MaskedKeyParts(pk.PartialKeyHint, account.Platform)
			providerKeyID := pk.ProviderKeyID
			var workspaceID *string
			if pk.WorkspaceID != "" {
				ws := pk.WorkspaceID
				workspaceID = &ws
			}
			syncedAt := now
			plan.Inserts = append(plan.Inserts, models.APIKey{
				TenantID:          account.TenantID,
				Platform:          account.Platform,
				PlatformAccountID: account.ID,
				ProviderKeyID:     &providerKeyID,
				Name:              pk.Name,
				Status:            pk.Status,
				KeyPrefix:         prefix,
				KeySuffix:         suffix,
				WorkspaceID:       workspaceID,
				LastSyncedAt:      &syncedAt,
			})
			continue
		}

		patch := models.APIKeyPatch{
			ID:           existing.ID,
			Name:         pk.Name,
			Status:       pk.Status,
			LastSyncedAt: now,
		}
		if pk.WorkspaceID != "" {
			ws := pk.WorkspaceID
			patch.WorkspaceID = &ws
		}
		plan.Updates = append(plan.Updates, patch)
	}
	return plan
}
