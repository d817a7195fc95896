package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/observability"
	"github.com/haoran127/costix/internal/providers/registry"
	"github.com/haoran127/costix/internal/services/usagesync"
	"github.com/haoran127/costix/internal/store"
	"github.com/haoran127/costix/internal/synclock"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Store         *store.Store
	Registry      *registry.Registry
	Locker        *synclock.Locker
	Orchestrator  *usagesync.Orchestrator
	Observability *observability.Provider
	Logger        *slog.Logger
}

// NewContainer builds a dependency container from the provided primitives
// and reconciles configured provider accounts into the database.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, obs *observability.Provider, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	st := store.New(pool)
	reg := registry.New(cfg, &http.Client{Timeout: cfg.Sync.ProviderTimeout})
	locker := synclock.NewLocker(redisClient, cfg.Sync.LockTTL)
	writer := usagesync.NewWriter(st, cfg.Sync.MaxSaveErrors)

	sink := newAlertSink(cfg, logger)

	var metrics usagesync.Metrics
	if obs != nil {
		metrics = obs
	}
	orchestrator := usagesync.NewOrchestrator(st, reg, locker, writer, sink, metrics, logger, usagesync.Options{
		ProviderTimeout: cfg.Sync.ProviderTimeout,
		BucketWidth:     cfg.Sync.BucketWidth,
		KeyListLimit:    cfg.Sync.KeyListLimit,
	})

	c := &Container{
		Config:        cfg,
		DBPool:        pool,
		Redis:         redisClient,
		Store:         st,
		Registry:      reg,
		Locker:        locker,
		Orchestrator:  orchestrator,
		Observability: obs,
		Logger:        logger,
	}

	if err := c.bootstrapAccounts(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// newAlertSink always includes the log sink; webhooks join the fan-out only
// when alerting is enabled and targets are configured.
func newAlertSink(cfg *config.Config, logger *slog.Logger) usagesync.AlertSink {
	sinks := []usagesync.AlertSink{usagesync.NewLogAlertSink(logger)}
	if cfg.Alerts.Enabled {
		sinks = append(sinks, usagesync.NewWebhookSink(cfg.Alerts, logger))
	}
	return usagesync.NewCompositeSink(sinks...)
}

// bootstrapAccounts upserts every configured account so operators can manage
// the fleet from config alone.
func (c *Container) bootstrapAccounts(ctx context.Context) error {
	for _, entry := range c.Config.Accounts {
		tenantID := uuid.Nil
		if raw := strings.TrimSpace(entry.Tenant); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("account %q: invalid tenant id: %w", entry.Name, err)
			}
			tenantID = parsed
		}
		account := models.ProviderAccount{
			TenantID:        tenantID,
			Platform:        models.Platform(strings.ToLower(strings.TrimSpace(entry.Platform))),
			Name:            entry.Name,
			AdminCredential: entry.AdminCredential,
			Enabled:         entry.IsEnabled(),
		}
		if _, err := c.Store.UpsertAccount(ctx, account); err != nil {
			return fmt.Errorf("bootstrap account %q: %w", entry.Name, err)
		}
		c.Logger.Info("provider account reconciled", "platform", string(account.Platform), "name", account.Name, "enabled", account.Enabled)
	}
	return nil
}
