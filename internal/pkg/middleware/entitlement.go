package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/memberfox/MemberFox/internal/pkg/entitlements"
)

// UserContextKey is where the resolved entitlement is stored for downstream
// handlers.
const UserContextKey = "ENTITLEMENT"

// RequireActiveSubscription gates a route on the entitlement projection.
// The authenticated user ID arrives in the X-User-ID header, set by the
// upstream auth layer. The projection is eventually consistent: a user may
// briefly be judged on a status the reconciler is about to overwrite.
func RequireActiveSubscription(checker *entitlements.Checker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := parseUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing user identity"})
		}

		ent, err := checker.Lookup(c.Context(), userID)
		if err != nil {
			log.Errorf("entitlement lookup failed for user %d: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Entitlement check failed"})
		}
		if !ent.Entitled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "No active subscription"})
		}

		c.Locals(UserContextKey, ent)
		return c.Next()
	}
}

func parseUserID(c *fiber.Ctx) uint {
	raw := strings.TrimSpace(c.Get("X-User-ID"))
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}
