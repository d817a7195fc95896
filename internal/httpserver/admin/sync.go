package admin

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/httpserver/httputil"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/services/usagesync"
	"github.com/haoran127/costix/internal/store"
	"github.com/haoran127/costix/internal/synclock"
)

type syncRequest struct {
	Action            string `json:"action"`
	PlatformAccountID string `json:"platform_account_id"`
	Range             string `json:"range"`
	StartingAt        string `json:"starting_at"`
	EndingAt          string `json:"ending_at"`
	BucketWidth       string `json:"bucket_width"`
	APIKeyID          string `json:"api_key_id"`
}

type syncSummaryBody struct {
	BucketsCount       int                `json:"buckets_count"`
	UsageKeysCount     int                `json:"usage_keys_count"`
	MatchedKeysCount   int                `json:"matched_keys_count"`
	UnmatchedKeysCount int                `json:"unmatched_keys_count"`
	SavedCount         int                `json:"saved_count"`
	SaveErrorsCount    int                `json:"save_errors_count,omitempty"`
	SaveErrors         []models.SaveError `json:"save_errors,omitempty"`
}

// syncResponse is the stable trigger response shape. Downstream alerting and
// the UI key on unmatched_keys_count to prompt a key-list resync, so fields
// here must not be renamed or dropped.
type syncResponse struct {
	Success       bool            `json:"success"`
	Action        string          `json:"action"`
	Summary       syncSummaryBody `json:"summary"`
	MatchedKeys   []string        `json:"matched_keys"`
	UnmatchedKeys []string        `json:"unmatched_keys"`
	SyncedAt      time.Time       `json:"synced_at"`
}

// triggerSync runs the pipeline for one account, synchronously, and returns
// the run summary. Manual triggers bypass the auto-sync debounce but still
// respect the per-account lock.
func (h *Handlers) triggerSync(c *fiber.Ctx) error {
	tenantID, ok := tenantFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "missing tenant context")
	}

	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	accountID, err := uuid.Parse(req.PlatformAccountID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "platform_account_id is required")
	}

	action := models.SyncAction(req.Action)
	if action == "" {
		action = models.ActionSyncUsage
	}
	if action != models.ActionListKeys && action != models.ActionSyncUsage {
		return httputil.WriteError(c, fiber.StatusBadRequest, "action must be list_keys or sync_usage")
	}

	runReq := usagesync.Request{
		Trigger:     models.SyncTriggerManual,
		Action:      action,
		BucketWidth: req.BucketWidth,
	}
	switch req.Range {
	case "", "month":
	case "today":
		now := time.Now().UTC()
		runReq.StartingAt = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return httputil.WriteError(c, fiber.StatusBadRequest, "range must be today or month")
	}
	if req.StartingAt != "" {
		ts, err := time.Parse(time.RFC3339, req.StartingAt)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid starting_at timestamp")
		}
		runReq.StartingAt = ts
	}
	if req.EndingAt != "" {
		ts, err := time.Parse(time.RFC3339, req.EndingAt)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid ending_at timestamp")
		}
		runReq.EndingAt = ts
	}
	if req.APIKeyID != "" {
		keyID, err := uuid.Parse(req.APIKeyID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid api_key_id")
		}
		runReq.APIKeyID = keyID
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
		// Do not leak other tenants' account ids.
		return httputil.WriteError(c, fiber.StatusNotFound, "account not found")
	}
	runReq.Account = account

	summary, err := h.syncer.Sync(c.UserContext(), runReq)
	if err != nil {
		switch {
		case errors.Is(err, synclock.ErrLocked):
			return httputil.WriteError(c, fiber.StatusConflict, "sync already in progress")
		case errors.Is(err, usagesync.ErrAccountDisabled):
			return httputil.WriteError(c, fiber.StatusUnprocessableEntity, "account is disabled")
		case errors.Is(err, usagesync.ErrCredentialMissing):
			return httputil.WriteError(c, fiber.StatusUnprocessableEntity, "account has no admin credential")
		case errors.Is(err, usagesync.ErrInvalidRange):
			return httputil.WriteError(c, fiber.StatusBadRequest, "starting_at must precede ending_at")
		default:
			h.logger.Error("sync run", "account_id", accountID.String(), "error", err)
			return httputil.WriteError(c, fiber.StatusBadGateway, err.Error())
		}
	}

	return c.Status(fiber.StatusOK).JSON(newSyncResponse(action, summary))
}

func newSyncResponse(action models.SyncAction, summary *models.SyncSummary) syncResponse {
	resp := syncResponse{
		Success:       true,
		Action:        string(action),
		MatchedKeys:   []string{},
		UnmatchedKeys: []string{},
	}
	if summary == nil {
		return resp
	}
	resp.Summary = syncSummaryBody{
		BucketsCount:       summary.BucketsCount,
		UsageKeysCount:     summary.UsageKeysCount,
		MatchedKeysCount:   summary.MatchedKeysCount,
		UnmatchedKeysCount: summary.UnmatchedKeysCount,
		SavedCount:         summary.SavedCount,
		SaveErrorsCount:    summary.SaveErrorsCount,
		SaveErrors:         summary.SaveErrors,
	}
	if summary.MatchedKeys != nil {
		resp.MatchedKeys = summary.MatchedKeys
	}
	if summary.UnmatchedKeys != nil {
		resp.UnmatchedKeys = summary.UnmatchedKeys
	}
	resp.SyncedAt = summary.SyncedAt
	return resp
}
