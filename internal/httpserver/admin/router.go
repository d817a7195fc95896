// Package admin exposes the dashboard API: triggering syncs and reading the
// key registry, usage aggregates, accounts and sync history. Every route is
// tenant-scoped through the bearer token.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/app"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/services/usagesync"
)

// Syncer runs the sync pipeline for one account.
type Syncer interface {
	Sync(ctx context.Context, req usagesync.Request) (*models.SyncSummary, error)
}

// Directory is the read side the handlers need from the store.
type Directory interface {
	GetAccount(ctx context.Context, id uuid.UUID) (models.ProviderAccount, error)
	ListAccounts(ctx context.Context, tenantID uuid.UUID) ([]models.ProviderAccount, error)
	ListKeysByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.APIKey, error)
	ListUsageByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]models.UsageRecord, error)
	ListSyncRuns(ctx context.Context, accountID uuid.UUID, limit int) ([]models.SyncRun, error)
}

// Handlers carries the per-route dependencies. reportingLoc decides which
// calendar month "current" means for usage queries.
type Handlers struct {
	store        Directory
	syncer       Syncer
	logger       *slog.Logger
	reportingLoc *time.Location
}

func NewHandlers(store Directory, syncer Syncer, logger *slog.Logger, reportingLoc *time.Location) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if reportingLoc == nil {
		reportingLoc = time.UTC
	}
	return &Handlers{store: store, syncer: syncer, logger: logger, reportingLoc: reportingLoc}
}

// Register mounts the admin API.
func Register(router fiber.Router, container *app.Container) {
	loc, err := time.LoadLocation(container.Config.Reporting.Timezone)
	if err != nil {
		loc = time.UTC
	}
	h := NewHandlers(container.Store, container.Orchestrator, container.Logger, loc)
	Mount(router, h, container.Config.Admin.JWTSecret)
}

// Mount wires the handlers under /api/v1 behind bearer auth. Split from
// Register so tests can mount stub dependencies.
func Mount(router fiber.Router, h *Handlers, jwtSecret string) {
	api := router.Group("/api/v1", authMiddleware(jwtSecret))
	api.Post("/sync", h.triggerSync)
	api.Get("/keys", h.listKeys)
	api.Get("/usage", h.listUsage)
	api.Get("/accounts", h.listAccounts)
	api.Get("/accounts/:id/sync-runs", h.listSyncRuns)
}
