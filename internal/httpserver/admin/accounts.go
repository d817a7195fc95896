package admin

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/httpserver/httputil"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/store"
)

type accountResponse struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// listAccounts returns the tenant's provider accounts. Admin credentials
// never leave the server.
func (h *Handlers) listAccounts(c *fiber.Ctx) error {
	tenantID, ok := tenantFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "missing tenant context")
	}

	accounts, err := h.store.ListAccounts(c.UserContext(), tenantID)
	if err != nil {
		h.logger.Error("list accounts", "tenant_id", tenantID.String(), "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to list accounts")
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID:        a.ID.String(),
			Platform:  string(a.Platform),
			Name:      a.Name,
			Enabled:   a.Enabled,
			CreatedAt: a.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

type syncRunResponse struct {
	ID         string              `json:"id"`
	Trigger    string              `json:"trigger"`
	Action     string              `json:"action"`
	State      string              `json:"state"`
	Summary    *models.SyncSummary `json:"summary,omitempty"`
	Error      *string             `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

func (h *Handlers) listSyncRuns(c *fiber.Ctx) error {
	tenantID, ok := tenantFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "missing tenant context")
	}

	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid account id")
	}
	account, err := h.store.GetAccount(c.UserContext(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "account not found")
		}
		h.logger.Error("load account", "account_id", accountID.String(), "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to load account")
	}
	if account.TenantID != tenantID {
		return httputil.WriteError(c, fiber.StatusNotFound, "account not found")
	}

	runs, err := h.store.ListSyncRuns(c.UserContext(), accountID, c.QueryInt("limit", 20))
	if err != nil {
		h.logger.Error("list sync runs", "account_id", accountID.String(), "error", err)
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to list sync runs")
	}

	out := make([]syncRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, syncRunResponse{
			ID:         run.ID.String(),
			Trigger:    string(run.Trigger),
			Action:     string(run.Action),
			State:      string(run.State),
			Summary:    run.Summary,
			Error:      run.Error,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}
