package admin

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/httpserver/httputil"
	"github.com/haoran127/costix/internal/models"
)

type keyResponse struct {
	ID            string     `json:"id"`
	Platform      string     `json:"platform"`
	AccountID     string     `json:"account_id"`
	ProviderKeyID *string    `json:"provider_key_id,omitempty"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	MaskedKey     string     `json:"masked_key"`
	WorkspaceID   *string    `json:"workspace_id,omitempty"`
	Owner         *string    `json:"owner,omitempty"`
	BusinessTag   *string    `json:"business_tag,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func maskedKey(k models.APIKey) string {
	if k.KeySuffix == "" {
		return k.KeyPrefix + "****"
	}
	return k.KeyPrefix + "****" + k.KeySuffix
}

// listKeys returns the tenant's tracked keys, optionally narrowed by
// ?platform= and ?account_id=.
func (h *Handlers) listKeys(c *fiber.Ctx) error {
	tenantID, ok := tenantFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "missing tenant context")
	}

	var platform models.Platform
	if raw := c.Query("platform"); raw != "" {
		platform = models.Platform(raw)
		if !platform.Valid() {
			return httputil.WriteError(c, fiber.StatusBadRequest, "unknown platform")
		}
	}
	var accountID uuid.UUID
	if raw := c.Query("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid account_id")
		}
		accountID = id
	}

	keys, err := h.store.ListKeysByTenant(c.UserContext(), tenantID)
	if err != nil {
		h.logger.Error("list keys", "tenant_id", tenantID.String(), "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to list keys")
	}

	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		if platform != "" && k.Platform != platform {
			continue
		}
		if accountID != uuid.Nil && k.PlatformAccountID != accountID {
			continue
		}
		out = append(out, keyResponse{
			ID:            k.ID.String(),
			Platform:      string(k.Platform),
			AccountID:     k.PlatformAccountID.String(),
			ProviderKeyID: k.ProviderKeyID,
			Name:          k.Name,
			Status:        string(k.Status),
			MaskedKey:     maskedKey(k),
			WorkspaceID:   k.WorkspaceID,
			Owner:         k.Owner,
			BusinessTag:   k.BusinessTag,
			LastSyncedAt:  k.LastSyncedAt,
			CreatedAt:     k.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}
