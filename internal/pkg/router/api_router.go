package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/memberfox/MemberFox/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get("/entitlements/:userID", h.deps.Entitlement.HandleGetEntitlement)

	// Example of a projection-gated route: anything mounted behind this
	// group requires an entitling subscription status.
	premium := v1.Group("/premium", middleware.RequireActiveSubscription(h.deps.Checker))
	premium.Get("/", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "entitled"})
	})
}
