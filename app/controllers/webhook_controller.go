package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/memberfox/MemberFox/internal/pkg/subscription"
	"github.com/memberfox/MemberFox/internal/pkg/webhook"
)

// TaskRunner hands detached work to the dispatch pool. Declared here so the
// controller can be tested with a synchronous runner.
type TaskRunner interface {
	Submit(name string, run func()) bool
}

// WebhookController is the delivery gateway: it owns the HTTP boundary of
// the ingestion pipeline. Everything past the idempotency check runs
// detached; the provider gets its 200 no matter what happens downstream.
type WebhookController struct {
	svc  *subscription.Service
	pool TaskRunner
	gate webhook.Gate
}

func NewWebhookController(svc *subscription.Service, pool TaskRunner, gate webhook.Gate) *WebhookController {
	return &WebhookController{svc: svc, pool: pool, gate: gate}
}

// HandleIncoming accepts one provider delivery.
//
// Responses: 401 for a failed security gate (a persistent auth failure
// needs operator attention, so provider retries are acceptable there), 400
// for structurally invalid bodies (not worth retrying), and 200 for every
// internally classifiable outcome including duplicates, unrecognized events
// and orphan events. The ledger insert is the only store operation allowed
// to block the response.
func (wc *WebhookController) HandleIncoming(c *fiber.Ctx) error {
	token := firstHeaderValue(c, "asaas-access-token", "X-Webhook-Token")
	if !wc.gate.Allow(token, c.IP()) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	envelope, err := webhook.ParseEnvelope(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	input := subscription.EventInput{
		EventID:     envelope.DeliveryID(),
		EventType:   envelope.Event,
		PayloadJSON: string(rawBody),
	}
	created, stored, err := wc.svc.RecordEvent(c.Context(), input)
	if err != nil {
		// Ledger store unreachable. Acknowledge anyway and fall back to
		// at-least-once: the raw event goes to the failover cache and the
		// reconciler's state-level idempotency guards redeliveries. The
		// stash itself runs in the detached task; only the ledger write may
		// ever block the response.
		log.Errorf("[Webhook] Ledger write failed for %s: %v", envelope.Event, err)
		wc.dispatchDegraded(envelope, input)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success", "degraded": true})
	}
	if !created {
		log.Debugf("[Webhook] Duplicate delivery of event %s", stored.EventID)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success", "idempotent": true})
	}

	wc.dispatch(envelope, stored.ID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "success"})
}

// dispatch hands classification and reconciliation to the worker pool. The
// HTTP response does not wait for it and no error from here may reach the
// provider; failures are terminal at the log and the ledger bookkeeping.
func (wc *WebhookController) dispatch(envelope *webhook.Envelope, ledgerID uint) {
	wc.pool.Submit("webhook:"+strings.ToLower(envelope.Event), func() {
		wc.process(context.Background(), envelope, ledgerID)
	})
}

// dispatchDegraded is the ledger-down variant: the detached task first parks
// the raw delivery in the failover cache, then reconciles with no ledger
// entry to close out.
func (wc *WebhookController) dispatchDegraded(envelope *webhook.Envelope, input subscription.EventInput) {
	wc.pool.Submit("webhook-degraded:"+strings.ToLower(envelope.Event), func() {
		wc.svc.StashRawEvent(input)
		wc.process(context.Background(), envelope, 0)
	})
}

func (wc *WebhookController) process(ctx context.Context, envelope *webhook.Envelope, ledgerID uint) {
	eventType := envelope.Event

	transition, ok := webhook.Classify(envelope)
	if !ok {
		log.Infof("[Webhook] Unrecognized event %s, dropped", eventType)
		wc.markProcessed(ctx, ledgerID, nil)
		return
	}

	err := wc.svc.Apply(ctx, transition)
	wc.markProcessed(ctx, ledgerID, err)
	if err != nil {
		log.Errorf("[Webhook] Reconciliation of %s (%s) failed: %v", eventType, transition.SubjectID, err)
	}
}

func (wc *WebhookController) markProcessed(ctx context.Context, ledgerID uint, procErr error) {
	if ledgerID == 0 {
		return
	}
	if err := wc.svc.MarkProcessed(ctx, ledgerID, procErr); err != nil {
		log.Errorf("[Webhook] Could not mark event %d processed: %v", ledgerID, err)
	}
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
