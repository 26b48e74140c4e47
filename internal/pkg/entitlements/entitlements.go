package entitlements

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/memberfox/MemberFox/app/models"
	"github.com/memberfox/MemberFox/internal/pkg/cache"
	"github.com/memberfox/MemberFox/internal/pkg/subscription"
)

// Entitlement is the answer to "may this user access paid features". It is
// computed from the UserSubscription projection only and therefore
// eventually consistent with the authoritative subscription record.
type Entitlement struct {
	UserID         uint       `json:"user_id"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Status         string     `json:"status"`
	PlanType       string     `json:"plan_type,omitempty"`
	NextDueDate    *time.Time `json:"next_due_date,omitempty"`
	Entitled       bool       `json:"entitled"`
	CheckedAt      time.Time  `json:"checked_at"`
}

// IsEntitlingStatus reports whether a projection status grants access.
// Overdue keeps access as a grace period; the provider flips it to
// cancelled or expired when the grace runs out.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusOverdue:
		return true
	default:
		return false
	}
}

// statusRank orders projection statuses when a user has several
// subscriptions; the highest-ranked one decides the entitlement.
func statusRank(status string) int {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive:
		return 3
	case models.SubscriptionStatusOverdue:
		return 2
	case models.SubscriptionStatusPending:
		return 1
	default:
		return 0
	}
}

// Checker resolves entitlements from the projection store, with a short
// Redis cache in front of it.
type Checker struct {
	repo     subscription.Repository
	useCache bool
}

// NewChecker creates a checker over an injected repository. useCache=false
// skips Redis entirely (tests, single-shot tools).
func NewChecker(repo subscription.Repository, useCache bool) *Checker {
	return &Checker{repo: repo, useCache: useCache}
}

// Lookup resolves a user's entitlement. A user without any projection rows
// is simply not entitled; that is a regular answer, not an error.
func (c *Checker) Lookup(ctx context.Context, userID uint) (*Entitlement, error) {
	_ = ctx
	if c.useCache {
		var cached Entitlement
		if cache.GetEntitlement(userID, &cached) {
			return &cached, nil
		}
	}

	projections, err := c.repo.ListProjectionsByUser(userID)
	if err != nil {
		return nil, err
	}

	ent := &Entitlement{
		UserID:    userID,
		Status:    models.SubscriptionStatusInactive,
		CheckedAt: time.Now(),
	}
	best := -1
	for i := range projections {
		p := &projections[i]
		rank := statusRank(p.Status)
		if rank > best {
			best = rank
			ent.SubscriptionID = p.SubscriptionID
			ent.Status = p.Status
			ent.PlanType = p.PlanType
			ent.NextDueDate = p.NextDueDate
		}
	}
	ent.Entitled = IsEntitlingStatus(ent.Status)

	if c.useCache {
		if err := cache.SetEntitlement(userID, ent); err != nil {
			log.Debugf("[Entitlements] Cache write for user %d failed: %v", userID, err)
		}
	}
	return ent, nil
}

// IsEntitled is the boolean shortcut used by middleware.
func (c *Checker) IsEntitled(ctx context.Context, userID uint) (bool, error) {
	ent, err := c.Lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return ent.Entitled, nil
}
