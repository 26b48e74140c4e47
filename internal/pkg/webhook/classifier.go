package webhook

import (
	"strings"
	"time"

	"github.com/memberfox/MemberFox/app/models"
)

// Transition subject kinds.
const (
	SubjectSubscription = "subscription"
	SubjectCustomer     = "customer"
)

// Transition is the canonical instruction derived from a raw provider event:
// push this subject to this status. For customer deletions FanOut is set and
// SubjectID carries the customer ID; the reconciler expands it into one
// update per owned subscription.
type Transition struct {
	Subject         string
	SubjectID       string
	CustomerID      string
	TargetStatus    string
	SourceEventType string
	PlanID          string
	NextDueDate     *time.Time
	FanOut          bool
}

// statusByEventType is the authoritative mapping from provider event strings
// to subscription statuses. Anything missing from this table is dropped as
// unrecognized; nothing is ever inferred from the string shape.
var statusByEventType = map[string]string{
	"PAYMENT_CONFIRMED": models.SubscriptionStatusActive,
	"PAYMENT_RECEIVED":  models.SubscriptionStatusActive,
	"PAYMENT_APPROVED":  models.SubscriptionStatusActive,

	"PAYMENT_OVERDUE":    models.SubscriptionStatusOverdue,
	"PAYMENT_REJECTED":   models.SubscriptionStatusOverdue,
	"PAYMENT_DENIED":     models.SubscriptionStatusOverdue,
	"PAYMENT_CHARGEBACK": models.SubscriptionStatusOverdue,

	"PAYMENT_DELETED":   models.SubscriptionStatusCancelled,
	"PAYMENT_REFUNDED":  models.SubscriptionStatusCancelled,
	"PAYMENT_CANCELLED": models.SubscriptionStatusCancelled,

	"SUBSCRIPTION_CREATED": models.SubscriptionStatusPending,

	"SUBSCRIPTION_RENEWED":   models.SubscriptionStatusActive,
	"SUBSCRIPTION_UPDATED":   models.SubscriptionStatusActive,
	"SUBSCRIPTION_ACTIVATED": models.SubscriptionStatusActive,

	"SUBSCRIPTION_CANCELED":  models.SubscriptionStatusCancelled,
	"SUBSCRIPTION_CANCELLED": models.SubscriptionStatusCancelled,
	"SUBSCRIPTION_DELETED":   models.SubscriptionStatusCancelled,

	"SUBSCRIPTION_EXPIRED": models.SubscriptionStatusExpired,

	"CUSTOMER_DELETED": models.SubscriptionStatusCancelled,
}

// Category derives the event category from the provider event string.
func Category(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "PAYMENT_"):
		return models.EventCategoryPayment
	case strings.HasPrefix(eventType, "SUBSCRIPTION_"):
		return models.EventCategorySubscription
	case strings.HasPrefix(eventType, "CUSTOMER_"):
		return models.EventCategoryCustomer
	default:
		return ""
	}
}

// Classify maps a parsed envelope to a canonical transition. The second
// return value is false for unrecognized events: unknown event strings,
// payment events without a subscription reference, and envelopes whose
// nested payload does not match the event category. Unrecognized events are
// logged and dropped by the caller, never treated as errors.
func Classify(env *Envelope) (*Transition, bool) {
	eventType := strings.ToUpper(strings.TrimSpace(env.Event))
	status, ok := statusByEventType[eventType]
	if !ok {
		return nil, false
	}

	switch Category(eventType) {
	case models.EventCategoryPayment:
		// Only subscription-scoped payments drive state; one-off payments
		// have no subscription reference and are dropped.
		if env.Payment == nil || strings.TrimSpace(env.Payment.Subscription) == "" {
			return nil, false
		}
		return &Transition{
			Subject:         SubjectSubscription,
			SubjectID:       strings.TrimSpace(env.Payment.Subscription),
			CustomerID:      strings.TrimSpace(env.Payment.Customer),
			TargetStatus:    status,
			SourceEventType: eventType,
			NextDueDate:     parseDueDate(env.Payment.DueDate),
		}, true

	case models.EventCategorySubscription:
		if env.Subscription == nil || strings.TrimSpace(env.Subscription.ID) == "" {
			return nil, false
		}
		return &Transition{
			Subject:         SubjectSubscription,
			SubjectID:       strings.TrimSpace(env.Subscription.ID),
			CustomerID:      strings.TrimSpace(env.Subscription.Customer),
			TargetStatus:    status,
			SourceEventType: eventType,
			PlanID:          strings.TrimSpace(env.Subscription.Plan),
			NextDueDate:     parseDueDate(env.Subscription.NextDueDate),
		}, true

	case models.EventCategoryCustomer:
		if env.Customer == nil || strings.TrimSpace(env.Customer.ID) == "" {
			return nil, false
		}
		return &Transition{
			Subject:         SubjectCustomer,
			SubjectID:       strings.TrimSpace(env.Customer.ID),
			CustomerID:      strings.TrimSpace(env.Customer.ID),
			TargetStatus:    status,
			SourceEventType: eventType,
			FanOut:          true,
		}, true
	}

	return nil, false
}
