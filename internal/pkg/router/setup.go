package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/memberfox/MemberFox/app/controllers"
	"github.com/memberfox/MemberFox/internal/pkg/entitlements"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries the constructed controllers into the routers.
// Everything is injected; no route handler reaches for globals.
type Dependencies struct {
	Webhook     *controllers.WebhookController
	Entitlement *controllers.EntitlementController
	Checker     *entitlements.Checker
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
