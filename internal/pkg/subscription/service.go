package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/memberfox/MemberFox/app/models"
	"github.com/memberfox/MemberFox/internal/pkg/failover"
	"github.com/memberfox/MemberFox/internal/pkg/webhook"
	"gorm.io/gorm"
)

// Service is the state reconciler: it converts canonical transitions into
// writes against the authoritative subscription record and the entitlement
// projection. It is idempotent at the state level, independent of the
// webhook event ledger: applying the same transition twice leaves the same
// final state.
type Service struct {
	repo     Repository
	fallback *failover.Cache

	onProjectionWrite func(userID uint)
}

// NewService creates a reconciler from an injected repository. fallback may
// be nil; without it, store failures are only logged.
func NewService(repo Repository, fallback *failover.Cache) *Service {
	return &Service{repo: repo, fallback: fallback}
}

// NewServiceFromDB creates a reconciler from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, fallback *failover.Cache) *Service {
	return NewService(NewRepository(db), fallback)
}

// OnProjectionWrite registers a hook that runs after every successful
// projection upsert, keyed by the affected user. Used to invalidate the
// entitlement read cache.
func (s *Service) OnProjectionWrite(fn func(userID uint)) {
	s.onProjectionWrite = fn
}

// EventInput is the normalized input for webhook event persistence.
type EventInput struct {
	EventID     string
	EventType   string
	PayloadJSON string
}

// RecordEvent persists an inbound webhook event idempotently. The returned
// bool is true when this delivery is the first one for its event ID.
// Providers occasionally omit the event ID; those deliveries are deduped on
// a payload hash instead.
func (s *Service) RecordEvent(ctx context.Context, in EventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	eventType := strings.ToUpper(strings.TrimSpace(in.EventType))
	if eventType == "" {
		return false, nil, errors.New("event type is required")
	}
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		EventID:     eventID,
		Category:    webhook.Category(eventType),
		EventType:   eventType,
		PayloadJSON: in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkProcessed marks a ledger entry as processed and stores an optional
// processing error.
func (s *Service) MarkProcessed(ctx context.Context, eventID uint, processingErr error) error {
	_ = ctx
	if eventID == 0 {
		return errors.New("event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(eventID, errMsg)
}

// Apply executes a canonical transition against both stores. It returns an
// error only for transient infrastructure failures on the authoritative
// write; orphan events and unknown subjects are no-op successes so the
// provider is never asked to retry them.
func (s *Service) Apply(ctx context.Context, t *webhook.Transition) error {
	if t.FanOut {
		return s.applyFanOut(ctx, t)
	}
	return s.applyOne(ctx, t, t.SubjectID)
}

func (s *Service) applyOne(ctx context.Context, t *webhook.Transition, subscriptionID string) error {
	_ = ctx
	sub, err := s.repo.GetSubscriptionByProviderID(subscriptionID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = nil
	case err != nil:
		log.Errorf("[Reconciler] Subscription lookup failed for %s: %v", subscriptionID, err)
		s.stashTransition(t, subscriptionID)
		return err
	}

	if sub == nil {
		if t.Subject != webhook.SubjectSubscription {
			log.Warnf("[Reconciler] Orphan event %s: no subscription %s", t.SourceEventType, subscriptionID)
			return nil
		}
		user := s.resolveUser(t.CustomerID)
		if user == nil {
			log.Warnf("[Reconciler] Orphan event %s: subscription %s has no resolvable customer %q", t.SourceEventType, subscriptionID, t.CustomerID)
			return nil
		}
		sub = &models.Subscription{
			SubscriptionID: subscriptionID,
			CustomerID:     t.CustomerID,
			UserID:         user.ID,
			PlanID:         t.PlanID,
		}
	}

	// Last-write-wins: the provider gives no ordering guarantee, so the
	// target status is applied unconditionally. A late-arriving older event
	// can overwrite a newer status; this is a known consistency hazard kept
	// for compatibility with provider semantics.
	sub.Status = t.TargetStatus
	sub.LastEventType = t.SourceEventType
	if t.PlanID != "" {
		sub.PlanID = t.PlanID
	}
	if sub.CustomerID == "" {
		sub.CustomerID = t.CustomerID
	}

	if err := s.repo.SaveSubscription(sub); err != nil {
		log.Errorf("[Reconciler] Saving subscription %s failed: %v", subscriptionID, err)
		s.stashSubscription(sub)
		return err
	}

	s.propagate(sub, t.NextDueDate)
	return nil
}

// propagate mirrors the authoritative status into the entitlement
// projection. This is a second, independent write: a failure here is logged
// and left for the out-of-band repair sweep, never rolled back into the
// subscription record.
func (s *Service) propagate(sub *models.Subscription, nextDueDate *time.Time) {
	projection := &models.UserSubscription{
		UserID:         sub.UserID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.SubscriptionID,
		Status:         sub.Status,
		PlanType:       sub.PlanID,
		NextDueDate:    nextDueDate,
	}
	if err := s.repo.UpsertProjection(projection); err != nil {
		log.Errorf("[Reconciler] Projection write for %s failed (left for repair sweep): %v", sub.SubscriptionID, err)
		s.stashProjection(projection)
		return
	}
	if s.onProjectionWrite != nil {
		s.onProjectionWrite(sub.UserID)
	}
}

func (s *Service) applyFanOut(ctx context.Context, t *webhook.Transition) error {
	subs, err := s.repo.ListSubscriptionsByCustomer(t.CustomerID)
	if err != nil {
		log.Errorf("[Reconciler] Fan-out lookup for customer %s failed: %v", t.CustomerID, err)
		s.stashTransition(t, t.CustomerID)
		return err
	}
	if len(subs) == 0 {
		log.Infof("[Reconciler] Fan-out %s: customer %s has no subscriptions", t.SourceEventType, t.CustomerID)
		return nil
	}

	var firstErr error
	for i := range subs {
		each := *t
		each.Subject = webhook.SubjectSubscription
		each.SubjectID = subs[i].SubscriptionID
		each.FanOut = false
		if err := s.applyOne(ctx, &each, each.SubjectID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PurgeExpiredEvents deletes ledger entries older than the retention
// window. Housekeeping only; event_id uniqueness is the real idempotency
// guard.
func (s *Service) PurgeExpiredEvents(ctx context.Context, retention time.Duration) (int64, error) {
	_ = ctx
	deleted, err := s.repo.DeleteWebhookEventsBefore(time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Infof("[Reconciler] Retention sweep deleted %d webhook events", deleted)
	}
	return deleted, nil
}

// StashRawEvent parks a raw delivery in the failover cache when the ledger
// store itself is unreachable. Processing then continues at-least-once,
// guarded downstream by state-level idempotency.
func (s *Service) StashRawEvent(in EventInput) {
	if s.fallback == nil {
		return
	}
	eventType := strings.ToUpper(strings.TrimSpace(in.EventType))
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	event := &models.WebhookEvent{
		EventID:     eventID,
		Category:    webhook.Category(eventType),
		EventType:   eventType,
		PayloadJSON: in.PayloadJSON,
		ReceivedAt:  time.Now(),
	}
	if err := s.fallback.Put(failover.KindEvent, eventID, event); err != nil {
		log.Errorf("[Reconciler] Failover stash of event %s failed: %v", eventID, err)
	}
}

func (s *Service) resolveUser(customerID string) *models.User {
	if strings.TrimSpace(customerID) == "" {
		return nil
	}
	user, err := s.repo.GetUserByCustomerID(customerID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Reconciler] Customer lookup %s failed: %v", customerID, err)
		}
		return nil
	}
	return user
}

func (s *Service) stashTransition(t *webhook.Transition, key string) {
	if s.fallback == nil {
		return
	}
	if err := s.fallback.Put(failover.KindTransition, key, t); err != nil {
		log.Errorf("[Reconciler] Failover stash of transition %s failed: %v", key, err)
	}
}

func (s *Service) stashSubscription(sub *models.Subscription) {
	if s.fallback == nil {
		return
	}
	if err := s.fallback.Put(failover.KindSubscription, sub.SubscriptionID, sub); err != nil {
		log.Errorf("[Reconciler] Failover stash of subscription %s failed: %v", sub.SubscriptionID, err)
	}
}

func (s *Service) stashProjection(p *models.UserSubscription) {
	if s.fallback == nil {
		return
	}
	if err := s.fallback.Put(failover.KindProjection, p.SubscriptionID, p); err != nil {
		log.Errorf("[Reconciler] Failover stash of projection %s failed: %v", p.SubscriptionID, err)
	}
}
