package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/memberfox/MemberFox/app/controllers"
	"github.com/memberfox/MemberFox/internal/pkg/cache"
	"github.com/memberfox/MemberFox/internal/pkg/database"
	"github.com/memberfox/MemberFox/internal/pkg/dispatch"
	"github.com/memberfox/MemberFox/internal/pkg/entitlements"
	"github.com/memberfox/MemberFox/internal/pkg/env"
	"github.com/memberfox/MemberFox/internal/pkg/failover"
	"github.com/memberfox/MemberFox/internal/pkg/router"
	"github.com/memberfox/MemberFox/internal/pkg/subscription"
	"github.com/memberfox/MemberFox/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	fallback := failover.New(failover.Options{
		MaxEntries:     env.GetEnvInt("FAILOVER_MAX_ENTRIES", 10000),
		EventRetention: time.Duration(env.GetEnvInt("EVENT_RETENTION_DAYS", 30)) * 24 * time.Hour,
		SweepInterval:  env.GetEnvDuration("FAILOVER_SWEEP_INTERVAL", 10*time.Minute),
		Store:          failover.NewFileSnapshotter(env.GetEnv("FAILOVER_SNAPSHOT_PATH", "data/failover.json")),
	})
	fallback.Start()

	svc := subscription.NewServiceFromDB(database.GetDB(), fallback)
	svc.OnProjectionWrite(cache.InvalidateEntitlement)

	manager := dispatch.NewManager(dispatch.NewPool(
		env.GetEnvInt("DISPATCH_WORKERS", dispatch.DefaultWorkers),
		env.GetEnvInt("DISPATCH_QUEUE_SIZE", dispatch.DefaultQueueSize),
	))
	retention := time.Duration(env.GetEnvInt("EVENT_RETENTION_DAYS", 30)) * 24 * time.Hour
	manager.AddPeriodic("event-retention", env.GetEnvDuration("EVENT_CLEANUP_INTERVAL", 6*time.Hour), func() {
		if _, err := svc.PurgeExpiredEvents(context.Background(), retention); err != nil {
			log.Printf("event retention sweep failed: %v", err)
		}
	})
	manager.Start()

	checker := entitlements.NewChecker(subscription.NewRepository(database.GetDB()), true)

	app := fiber.New(fiber.Config{
		ReadTimeout: 10 * time.Second,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app, router.Dependencies{
		Webhook:     controllers.NewWebhookController(svc, manager.Pool(), webhook.NewGateFromEnv()),
		Entitlement: controllers.NewEntitlementController(checker),
		Checker:     checker,
	})

	return app
}
