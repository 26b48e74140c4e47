package models

import "time"

// Webhook event categories derived from the provider payload shape.
const (
	EventCategoryPayment      = "payment"
	EventCategorySubscription = "subscription"
	EventCategoryCustomer     = "customer"
)

// WebhookEvent stores every inbound provider notification with deduplication
// metadata. The unique index on event_id is the idempotency guard: the
// conditional insert against it decides whether a delivery is new.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_event_id,unique" json:"event_id"`
	Category        string     `gorm:"type:varchar(20);not null;index" json:"category"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
