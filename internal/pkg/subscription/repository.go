package subscription

import (
	"time"

	"github.com/memberfox/MemberFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the reconciler service.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	DeleteWebhookEventsBefore(cutoff time.Time) (int64, error)
	GetSubscriptionByProviderID(subscriptionID string) (*models.Subscription, error)
	ListSubscriptionsByCustomer(customerID string) ([]models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	UpsertProjection(p *models.UserSubscription) error
	ListProjectionsByUser(userID uint) ([]models.UserSubscription, error)
	GetUserByCustomerID(customerID string) (*models.User, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateWebhookEventIfNotExists is the idempotency gate: a single
// conditional insert against the unique event_id index. created=false means
// this delivery is a duplicate and must be acknowledged without side
// effects. There is deliberately no read-then-write here; two concurrent
// duplicates race on the constraint, not in application code.
func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) DeleteWebhookEventsBefore(cutoff time.Time) (int64, error) {
	tx := r.db.Where("received_at < ?", cutoff).Delete(&models.WebhookEvent{})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) GetSubscriptionByProviderID(subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("subscription_id = ?", subscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByCustomer(customerID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("customer_id = ?", customerID).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id",
			"user_id",
			"plan_id",
			"status",
			"last_event_type",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("subscription_id = ?", sub.SubscriptionID).First(sub).Error
}

func (r *gormRepository) UpsertProjection(p *models.UserSubscription) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"customer_id",
			"status",
			"plan_type",
			"next_due_date",
			"updated_at",
		}),
	}).Create(p).Error
}

func (r *gormRepository) ListProjectionsByUser(userID uint) ([]models.UserSubscription, error) {
	var projections []models.UserSubscription
	err := r.db.Where("user_id = ?", userID).Find(&projections).Error
	return projections, err
}

func (r *gormRepository) GetUserByCustomerID(customerID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("customer_id = ?", customerID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
