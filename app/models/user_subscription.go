package models

import "time"

// UserSubscription is the denormalized projection of Subscription used by
// entitlement checks. It is keyed by user so access-control lookups never
// join through customer_id. The projection is eventually consistent with the
// authoritative record: the reconciler writes it after the subscription row,
// in a second non-transactional write.
type UserSubscription struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	CustomerID     string     `gorm:"type:varchar(191);not null;default:''" json:"customer_id"`
	SubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_user_subscriptions_subscription_id,unique" json:"subscription_id"`
	Status         string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PlanType       string     `gorm:"type:varchar(191);not null;default:''" json:"plan_type"`
	NextDueDate    *time.Time `gorm:"type:timestamp;default:null" json:"next_due_date,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
