package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/memberfox/MemberFox/app/models"
	"github.com/memberfox/MemberFox/internal/pkg/dispatch"
	"github.com/memberfox/MemberFox/internal/pkg/failover"
	"github.com/memberfox/MemberFox/internal/pkg/subscription"
	"github.com/memberfox/MemberFox/internal/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// syncRunner executes tasks inline so the test observes the full pipeline
// without sleeping on the worker pool.
type syncRunner struct{}

func (syncRunner) Submit(name string, run func()) bool {
	run()
	return true
}

// memRepo is an in-memory subscription.Repository with injectable failures.
type memRepo struct {
	nextID      uint
	events      map[string]*models.WebhookEvent
	subs        map[string]*models.Subscription
	projections map[string]*models.UserSubscription
	users       map[string]*models.User

	failCreateEvent error
}

func newMemRepo() *memRepo {
	return &memRepo{
		events:      make(map[string]*models.WebhookEvent),
		subs:        make(map[string]*models.Subscription),
		projections: make(map[string]*models.UserSubscription),
		users:       make(map[string]*models.User),
	}
}

func (m *memRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if m.failCreateEvent != nil {
		return false, nil, m.failCreateEvent
	}
	if existing, ok := m.events[event.EventID]; ok {
		return false, existing, nil
	}
	m.nextID++
	event.ID = m.nextID
	event.ReceivedAt = time.Now()
	m.events[event.EventID] = event
	return true, event, nil
}

func (m *memRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range m.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memRepo) DeleteWebhookEventsBefore(cutoff time.Time) (int64, error) {
	var deleted int64
	for id, e := range m.events {
		if e.ReceivedAt.Before(cutoff) {
			delete(m.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memRepo) GetSubscriptionByProviderID(subscriptionID string) (*models.Subscription, error) {
	if sub, ok := m.subs[subscriptionID]; ok {
		copied := *sub
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memRepo) ListSubscriptionsByCustomer(customerID string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range m.subs {
		if sub.CustomerID == customerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *memRepo) SaveSubscription(sub *models.Subscription) error {
	if existing, ok := m.subs[sub.SubscriptionID]; ok {
		sub.ID = existing.ID
	} else {
		m.nextID++
		sub.ID = m.nextID
	}
	copied := *sub
	m.subs[sub.SubscriptionID] = &copied
	return nil
}

func (m *memRepo) UpsertProjection(p *models.UserSubscription) error {
	copied := *p
	m.projections[p.SubscriptionID] = &copied
	return nil
}

func (m *memRepo) ListProjectionsByUser(userID uint) ([]models.UserSubscription, error) {
	var out []models.UserSubscription
	for _, p := range m.projections {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memRepo) GetUserByCustomerID(customerID string) (*models.User, error) {
	if user, ok := m.users[customerID]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func newWebhookApp(repo *memRepo, fallback *failover.Cache, gate webhook.Gate) *fiber.App {
	svc := subscription.NewService(repo, fallback)
	controller := NewWebhookController(svc, syncRunner{}, gate)

	app := fiber.New()
	app.Post("/webhooks/billing", controller.HandleIncoming)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHandleIncomingHappyPath(t *testing.T) {
	repo := newMemRepo()
	repo.users["cus_1"] = &models.User{ID: 9, CustomerID: "cus_1"}
	app := newWebhookApp(repo, nil, webhook.Gate{})

	body := `{"id":"evt_1","event":"SUBSCRIPTION_CREATED","subscription":{"id":"sub_1","customer":"cus_1","plan":"plan_gold","nextDueDate":"2026-10-01"}}`
	resp, decoded := postWebhook(t, app, body, nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded["status"])

	sub, ok := repo.subs["sub_1"]
	require.True(t, ok)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
	assert.EqualValues(t, 9, sub.UserID)

	projection, ok := repo.projections["sub_1"]
	require.True(t, ok)
	assert.Equal(t, models.SubscriptionStatusPending, projection.Status)

	event, ok := repo.events["evt_1"]
	require.True(t, ok)
	assert.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)
}

func TestHandleIncomingMalformedBody(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookApp(repo, nil, webhook.Gate{})

	for _, body := range []string{"", "not json", "{}", `{"id":"evt_1"}`} {
		resp, decoded := postWebhook(t, app, body, nil)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "body %q", body)
		assert.Equal(t, "invalid_payload", decoded["error"])
	}
	assert.Empty(t, repo.events)
}

func TestHandleIncomingRejectsBadToken(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookApp(repo, nil, webhook.Gate{Token: "secret"})

	body := `{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","subscription":"sub_1"}}`

	resp, _ := postWebhook(t, app, body, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = postWebhook(t, app, body, map[string]string{"asaas-access-token": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, decoded := postWebhook(t, app, body, map[string]string{"asaas-access-token": "secret"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded["status"])
}

func TestHandleIncomingDuplicateDelivery(t *testing.T) {
	repo := newMemRepo()
	repo.users["cus_1"] = &models.User{ID: 9, CustomerID: "cus_1"}
	app := newWebhookApp(repo, nil, webhook.Gate{})

	body := `{"id":"evt_1","event":"SUBSCRIPTION_CREATED","subscription":{"id":"sub_1","customer":"cus_1"}}`

	resp, decoded := postWebhook(t, app, body, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Nil(t, decoded["idempotent"])

	resp, decoded = postWebhook(t, app, body, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["idempotent"])
	assert.Len(t, repo.events, 1)
}

func TestHandleIncomingUnrecognizedEventIsAcknowledged(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookApp(repo, nil, webhook.Gate{})

	body := `{"id":"evt_1","event":"PAYMENT_SOMETHING_NEW","payment":{"id":"pay_1","subscription":"sub_1"}}`
	resp, decoded := postWebhook(t, app, body, nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded["status"])
	assert.Empty(t, repo.subs)

	// The ledger entry is still closed out so the sweep can reclaim it.
	event := repo.events["evt_1"]
	require.NotNil(t, event)
	assert.NotNil(t, event.ProcessedAt)
}

func TestHandleIncomingAcknowledgesWhenLedgerIsDown(t *testing.T) {
	repo := newMemRepo()
	repo.users["cus_1"] = &models.User{ID: 9, CustomerID: "cus_1"}
	repo.failCreateEvent = errors.New("mysql gone away")

	fallback := failover.New(failover.Options{})
	app := newWebhookApp(repo, fallback, webhook.Gate{})

	body := `{"id":"evt_1","event":"SUBSCRIPTION_CREATED","subscription":{"id":"sub_1","customer":"cus_1"}}`
	resp, decoded := postWebhook(t, app, body, nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded["status"])
	assert.Equal(t, true, decoded["degraded"])

	// The raw delivery is parked in the failover cache and the state
	// transition is still applied.
	var stashed models.WebhookEvent
	require.True(t, fallback.Get(failover.KindEvent, "evt_1", &stashed))
	assert.Equal(t, "SUBSCRIPTION_CREATED", stashed.EventType)

	sub, ok := repo.subs["sub_1"]
	require.True(t, ok)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
}

// slowSnapshotter simulates a stalled disk so the test can tell whether any
// snapshot write sits on the request path.
type slowSnapshotter struct {
	delay time.Duration
}

func (s *slowSnapshotter) Save(failover.Snapshot) error {
	time.Sleep(s.delay)
	return nil
}

func (s *slowSnapshotter) Load() (failover.Snapshot, error) { return failover.Snapshot{}, nil }

func TestHandleIncomingDegradedAckDoesNotWaitOnFailoverCache(t *testing.T) {
	repo := newMemRepo()
	repo.users["cus_1"] = &models.User{ID: 9, CustomerID: "cus_1"}
	repo.failCreateEvent = errors.New("mysql gone away")

	slow := &slowSnapshotter{delay: 2 * time.Second}
	fallback := failover.New(failover.Options{Store: slow})

	pool := dispatch.NewPool(1, 8)
	pool.Start()
	defer pool.Stop()

	svc := subscription.NewService(repo, fallback)
	controller := NewWebhookController(svc, pool, webhook.Gate{})
	app := fiber.New()
	app.Post("/webhooks/billing", controller.HandleIncoming)

	body := `{"id":"evt_1","event":"SUBSCRIPTION_CREATED","subscription":{"id":"sub_1","customer":"cus_1"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := app.Test(req, -1)
	elapsed := time.Since(start)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decoded["degraded"])

	// The acknowledgment must come back without waiting on the stash or any
	// snapshot persistence; the stalled disk would push it past the delay.
	assert.Less(t, elapsed, slow.delay)

	// The detached task still parks the raw delivery.
	deadline := time.Now().Add(2 * time.Second)
	var stashed models.WebhookEvent
	for !fallback.Get(failover.KindEvent, "evt_1", &stashed) {
		if time.Now().After(deadline) {
			t.Fatal("raw delivery never reached the failover cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "SUBSCRIPTION_CREATED", stashed.EventType)
}

func TestHandleIncomingOrphanPaymentIsAcknowledged(t *testing.T) {
	repo := newMemRepo()
	app := newWebhookApp(repo, nil, webhook.Gate{})

	body := `{"id":"evt_1","event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","customer":"cus_ghost","subscription":"sub_ghost"}}`
	resp, decoded := postWebhook(t, app, body, nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", decoded["status"])
	assert.Empty(t, repo.subs)

	event := repo.events["evt_1"]
	require.NotNil(t, event)
	assert.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)
}
