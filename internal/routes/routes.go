// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"sitegen/internal/handlers"
	"sitegen/internal/middleware"
	"sitegen/internal/models"
	"sitegen/internal/repositories"
	"sitegen/internal/repositories/cache"
	"sitegen/internal/services/auth"
	"sitegen/internal/services/ledger"
	"sitegen/internal/services/purchase"
	"sitegen/internal/services/reset"
	"sitegen/internal/services/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies carries everything SetupRoutes needs to wire the
// application. CacheService may be nil; billing works without redis.
type Dependencies struct {
	DB            *gorm.DB
	CacheService  *cache.CacheService
	Logger        *logrus.Logger
	WalletConfig  wallet.Config
	ResetService  reset.Service
	LedgerService ledger.Service
	WalletService wallet.Service
}

// SetupRoutes configures all application routes.
// It groups routes by functionality and applies appropriate middleware.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	userRepo := repositories.NewUserRepository(deps.DB, deps.CacheService)

	authService := auth.NewService(userRepo)
	authHandler := handlers.NewAuthHandler(authService)

	var locker purchase.Locker
	if deps.CacheService != nil {
		locker = deps.CacheService
	}
	purchaseService := purchase.NewService(purchase.NewStripeGateway(), deps.LedgerService, locker, deps.Logger)

	billingHandler := handlers.NewBillingHandler(deps.WalletService, deps.LedgerService, purchaseService, deps.WalletConfig)
	adminHandler := handlers.NewAdminHandler(deps.LedgerService, deps.WalletService, deps.ResetService)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.CacheService)

	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	// Public endpoints (no auth required)
	api.Post("/login", authHandler.Login)
	api.Post("/refresh", authHandler.Refresh)

	authMiddleware := middleware.NewAuthMiddleware(authService)
	protected := api.Use(authMiddleware.Handler)

	billing := protected.Group("/billing")
	billing.Get("/balance", middleware.HasPermission(models.PermissionBillingRead), billingHandler.GetBalance)
	billing.Get("/transactions", middleware.HasPermission(models.PermissionBillingRead), billingHandler.ListTransactions)
	billing.Post("/project-charge", middleware.HasPermission(models.PermissionBillingWrite), billingHandler.ChargeProjectCreation)
	billing.Get("/packs", middleware.HasPermission(models.PermissionBillingRead), billingHandler.ListPacks)
	billing.Post("/purchase", middleware.HasPermission(models.PermissionBillingWrite), billingHandler.CreatePurchase)
	billing.Post("/purchase/confirm", middleware.HasPermission(models.PermissionBillingWrite), billingHandler.ConfirmPurchase)

	admin := protected.Group("/admin/billing", middleware.AdminAuthMiddleware, middleware.HasPermission(models.PermissionWriteAdmin))
	admin.Post("/adjust", adminHandler.AdjustBalance)
	admin.Post("/users/:id/reset", adminHandler.ResetUser)
	admin.Get("/users/:id/transactions", adminHandler.UserTransactions)
	admin.Post("/wallets", adminHandler.CreateWallet)
	admin.Get("/wallets/:id/reconcile", adminHandler.ReconcileWallet)
	admin.Get("/reset-due", adminHandler.ResetDue)
	admin.Post("/reset-run", adminHandler.RunReset)
}
