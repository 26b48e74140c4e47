package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/memberfox/MemberFox/app/controllers"
)

// HttpRouter wires the provider-facing webhook endpoint and the health
// probe. The webhook path carries no rate limiter: the provider blindly
// retries on anything but a prompt 200 and throttling it would only create
// duplicate storms.
type HttpRouter struct {
	deps Dependencies
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/billing", h.deps.Webhook.HandleIncoming)
	app.Get("/health", controllers.HandleHealth)
}
