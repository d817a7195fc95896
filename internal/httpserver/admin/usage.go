package admin

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/httpserver/httputil"
)

type usageResponse struct {
	APIKeyID                 string    `json:"api_key_id"`
	PeriodStart              string    `json:"period_start"`
	TokenUsageDaily          int64     `json:"token_usage_daily"`
	TokenUsageMonthly        int64     `json:"token_usage_monthly"`
	TokenUsageTotal          int64     `json:"token_usage_total"`
	PromptTokensTotal        int64     `json:"prompt_tokens_total"`
	CompletionTokensTotal    int64     `json:"completion_tokens_total"`
	CacheReadTokensTotal     int64     `json:"cache_read_tokens_total"`
	CacheCreationTokensTotal int64     `json:"cache_creation_tokens_total"`
	CostCents                int64     `json:"cost_cents"`
	SyncStatus               string    `json:"sync_status"`
	SyncedAt                 time.Time `json:"synced_at"`
}

// listUsage returns usage rows for the tenant. from/to are inclusive date
// bounds (YYYY-MM-DD); the default window is the current month, where the
// reporting timezone decides which month that is near a month boundary.
func (h *Handlers) listUsage(c *fiber.Ctx) error {
	tenantID, ok := tenantFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "missing tenant context")
	}

	local := time.Now().In(h.reportingLoc)
	from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid from date")
		}
		from = parsed.UTC()
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid to date")
		}
		to = parsed.UTC().AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "from must be before to")
	}
	var keyID uuid.UUID
	if raw := c.Query("api_key_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid api_key_id")
		}
		keyID = id
	}

	records, err := h.store.ListUsageByTenant(c.UserContext(), tenantID, from, to)
	if err != nil {
		h.logger.Error("list usage", "tenant_id", tenantID.String(), "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to list usage")
	}

	out := make([]usageResponse, 0, len(records))
	for _, r := range records {
		if keyID != uuid.Nil && r.APIKeyID != keyID {
			continue
		}
		out = append(out, usageResponse{
			APIKeyID:                 r.APIKeyID.String(),
			PeriodStart:              r.PeriodStart.Format("2006-01-02"),
			TokenUsageDaily:          r.TokenUsageDaily,
			TokenUsageMonthly:        r.TokenUsageMonthly,
			TokenUsageTotal:          r.TokenUsageTotal,
			PromptTokensTotal:        r.PromptTokensTotal,
			CompletionTokensTotal:    r.CompletionTokensTotal,
			CacheReadTokensTotal:     r.CacheReadTokensTotal,
			CacheCreationTokensTotal: r.CacheCreationTokensTotal,
			CostCents:                r.CostCents,
			SyncStatus:               string(r.SyncStatus),
			SyncedAt:                 r.SyncedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}
