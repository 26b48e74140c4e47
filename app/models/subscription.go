package models

import "time"

// Subscription lifecycle statuses. Every status the classifier can emit has
// to appear here; the reconciler applies whatever it is handed, so there is
// no transition matrix.
const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusOverdue   = "overdue"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusRefunded  = "refunded"
	SubscriptionStatusInactive  = "inactive"
)

// Subscription is the authoritative record of a provider subscription. All
// mutations go through the reconciler service; nothing else writes here.
type Subscription struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID string    `gorm:"type:varchar(191);not null;index:ux_subscriptions_subscription_id,unique" json:"subscription_id"`
	CustomerID     string    `gorm:"type:varchar(191);not null;index" json:"customer_id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	PlanID         string    `gorm:"type:varchar(191);not null;default:''" json:"plan_id"`
	Status         string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	LastEventType  string    `gorm:"type:varchar(100);not null;default:''" json:"last_event_type"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsKnownSubscriptionStatus reports whether s is one of the lifecycle
// statuses above.
func IsKnownSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusOverdue,
		SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusRefunded,
		SubscriptionStatusInactive:
		return true
	default:
		return false
	}
}
