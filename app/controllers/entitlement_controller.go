package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/memberfox/MemberFox/internal/pkg/entitlements"
)

// EntitlementController serves read-only entitlement lookups for other
// services. Answers come from the projection and are eventually consistent
// with the authoritative subscription record.
type EntitlementController struct {
	checker *entitlements.Checker
}

func NewEntitlementController(checker *entitlements.Checker) *EntitlementController {
	return &EntitlementController{checker: checker}
}

func (ec *EntitlementController) HandleGetEntitlement(c *fiber.Ctx) error {
	raw := c.Params("userID")
	userID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	ent, err := ec.checker.Lookup(c.Context(), uint(userID))
	if err != nil {
		log.Errorf("entitlement lookup for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(ent)
}
