// Package main is a one-shot job that runs the daily token reset and
// the wallet expiry sweep. Intended to be invoked from cron shortly
// after local midnight; safe to re-run, already-reset wallets are
// skipped.
package main

import (
	"context"
	"os"
	"time"

	"sitegen/internal/config"
	"sitegen/internal/repositories"
	"sitegen/internal/repositories/cache"
	"sitegen/internal/services/ledger"
	"sitegen/internal/services/reset"
	"sitegen/internal/services/wallet"

	"github.com/sirupsen/logrus"
)

func main() {
	config.LoadEnv()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	db, err := repositories.Connect(repositories.DBConfigFromEnv())
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get database instance")
	}
	defer sqlDB.Close()

	var cacheService *cache.CacheService
	if config.GetEnv("REDIS_DISABLED", "false") != "true" {
		client := cache.NewRedisClient(&cache.RedisConfig{
			Host:     config.GetEnv("REDIS_HOST", "localhost"),
			Port:     config.GetEnv("REDIS_PORT", "6379"),
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetIntEnv("REDIS_DB", 0),
		})
		cacheService = cache.NewCacheService(client, 15*time.Minute)
		if err := cacheService.HealthCheck(context.Background()); err != nil {
			log.WithError(err).Warn("redis unavailable, running without the advisory lock")
			cacheService = nil
		} else {
			defer cacheService.Close()
		}
	}

	walletRepo := repositories.NewWalletRepository(db)
	walletConfig := wallet.Config{
		DailyAllotment:        config.GetInt64Env("DAILY_TOKEN_ALLOTMENT", wallet.DefaultDailyAllotment),
		RequiredProjectTokens: config.GetInt64Env("REQUIRED_PROJECT_TOKENS", wallet.DefaultRequiredProjectTokens),
	}
	ledgerService := ledger.NewService(walletRepo, log, &ledger.NoopMetricsCollector{})
	walletService := wallet.NewService(walletRepo, ledgerService, walletConfig, log)

	var locker reset.Locker
	if cacheService != nil {
		locker = cacheService
	}
	resetService := reset.NewService(walletRepo, walletService, config.ResetLocation(), locker, log)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	result, err := resetService.ResetAllUsersTokens(ctx)
	if err != nil {
		log.WithError(err).Error("daily reset failed")
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"reset_count": result.ResetCount,
		"fail_count":  result.FailCount,
	}).Info(result.Message)

	expired, err := walletService.DeactivateExpired(ctx)
	if err != nil {
		log.WithError(err).Error("wallet expiry sweep failed")
		os.Exit(1)
	}
	log.WithField("expired", expired).Info("expiry sweep completed")

	if result.FailCount > 0 {
		os.Exit(1)
	}
}
