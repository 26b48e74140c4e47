package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/memberfox/MemberFox/internal/pkg/cache"
	"github.com/memberfox/MemberFox/internal/pkg/database"
)

// HandleHealth reports reachability of the primary store and the cache. The
// service stays up (and keeps acknowledging webhooks into the failover
// cache) even when these are degraded, so this endpoint is informational.
func HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if db := database.GetDB(); db == nil {
		dbStatus = "down"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "down"
	}

	cacheStatus := "ok"
	if err := cache.GetClient().Ping(ctx).Err(); err != nil {
		cacheStatus = "down"
	}

	status := fiber.StatusOK
	if dbStatus != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"database": dbStatus,
		"cache":    cacheStatus,
	})
}
