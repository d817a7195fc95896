// Command syncusage runs one sync pass from the shell: every enabled
// account, or a single account via -account. Useful for cron setups and
// for debugging a provider credential without starting the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/app"
	"github.com/haoran127/costix/internal/config"
	"github.com/haoran127/costix/internal/database"
	"github.com/haoran127/costix/internal/models"
	"github.com/haoran127/costix/internal/redisclient"
)

func main() {
	accountFlag := flag.String("account", "", "sync only this account id")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := database.RunMigrations(ctx, cfg.Database); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	container, err := app.NewContainer(ctx, cfg, dbPool, redisClient, nil, logger)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}

	var accounts []models.ProviderAccount
	if *accountFlag != "" {
		id, err := uuid.Parse(*accountFlag)
		if err != nil {
			log.Fatalf("invalid account id %q: %v", *accountFlag, err)
		}
		account, err := container.Store.GetAccount(ctx, id)
		if err != nil {
			log.Fatalf("load account: %v", err)
		}
		accounts = append(accounts, account)
	} else {
		accounts, err = container.Store.ListEnabledAccounts(ctx)
		if err != nil {
			log.Fatalf("list accounts: %v", err)
		}
	}

	failed := 0
	for _, account := range accounts {
		summary, err := container.Orchestrator.Run(ctx, account, models.SyncTriggerManual)
		if err != nil {
			failed++
			logger.Error("sync failed", "account", account.Name, "platform", string(account.Platform), "error", err)
			continue
		}
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Printf("%s (%s):\n%s\n", account.Name, account.Platform, out)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
