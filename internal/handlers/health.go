package handlers

import (
	"sitegen/internal/repositories/cache"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db    *gorm.DB
	cache *cache.CacheService
}

func NewHealthHandler(db *gorm.DB, cacheService *cache.CacheService) *HealthHandler {
	return &HealthHandler{db: db, cache: cacheService}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "ok"
	services := fiber.Map{
		"database": "connected",
		"redis":    "connected",
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Context())
	}
	if err != nil {
		status = "degraded"
		services["database"] = "unavailable"
	}

	if h.cache == nil {
		services["redis"] = "disabled"
	} else if err := h.cache.HealthCheck(c.Context()); err != nil {
		status = "degraded"
		services["redis"] = "unavailable"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"services": services,
	})
}
