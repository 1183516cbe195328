// Package main is the entry point for the billing API server.
// It initializes all dependencies, sets up the HTTP server,
// and starts the application.
package main

import (
	"context"
	"time"

	"sitegen/internal/config"
	"sitegen/internal/metrics"
	"sitegen/internal/repositories"
	"sitegen/internal/repositories/cache"
	"sitegen/internal/routes"
	"sitegen/internal/services/ledger"
	"sitegen/internal/services/reset"
	"sitegen/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	config.LoadEnv()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if !config.IsProduction() {
		log.SetLevel(logrus.DebugLevel)
	}

	db, err := repositories.Connect(repositories.DBConfigFromEnv())
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get database instance")
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.WithError(err).Warn("failed to close database connection")
		}
	}()
	log.Info("connected to database")

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
			log.WithError(err).Warn("redis unavailable, continuing without cache")
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

	ledgerService := ledger.NewService(walletRepo, log, metrics.NewLedgerCollector())
	walletService := wallet.NewService(walletRepo, ledgerService, walletConfig, log)

	var locker reset.Locker
	if cacheService != nil {
		locker = cacheService
	}
	resetService := reset.NewService(walletRepo, walletService, config.ResetLocation(), locker, log)

	// Background sweep: run the daily reset and the expiry pass when
	// due, so user balances are fresh even if the resetjob cron is
	// down. The per-wallet LastTokenReset marker keeps this idempotent
	// across replicas.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if due, err := resetService.ShouldResetTokens(ctx); err != nil {
				log.WithError(err).Warn("reset-due check failed")
			} else if due {
				if result, err := resetService.ResetAllUsersTokens(ctx); err != nil {
					log.WithError(err).Error("scheduled daily reset failed")
				} else {
					log.WithFields(logrus.Fields{
						"reset_count": result.ResetCount,
						"fail_count":  result.FailCount,
					}).Info("scheduled daily reset completed")
				}
			}
			if n, err := walletService.DeactivateExpired(ctx); err != nil {
				log.WithError(err).Warn("wallet expiry sweep failed")
			} else if n > 0 {
				log.WithField("expired", n).Info("deactivated expired wallets")
			}
			cancel()
		}
	}()

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins:     config.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowCredentials: true,
	}))

	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Use("/api/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Dependencies{
		DB:            db,
		CacheService:  cacheService,
		Logger:        log,
		WalletConfig:  walletConfig,
		ResetService:  resetService,
		LedgerService: ledgerService,
		WalletService: walletService,
	})

	log.Fatal(app.Listen(":" + config.GetEnv("PORT", "3000")))
}
