package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nandu3112/product-importer/internal/models"
)

// ErrWebhookNotFound is returned when no webhook exists for the given id.
var ErrWebhookNotFound = errors.New("webhook not found")

type WebhooksRepository struct {
	db *gorm.DB
}

func NewWebhooksRepository(db *gorm.DB) *WebhooksRepository {
	return &WebhooksRepository{db: db}
}

// ActiveForEvent returns the active webhooks subscribed to the event type.
func (r *WebhooksRepository) ActiveForEvent(ctx context.Context, eventType string) ([]models.Webhook, error) {
	var webhooks []models.Webhook
	err := r.db.WithContext(ctx).
		Where("event_type = ? AND is_active = ?", eventType, true).
		Find(&webhooks).Error
	if err != nil {
		return nil, fmt.Errorf("list webhooks for %s: %w", eventType, err)
	}
	return webhooks, nil
}

func (r *WebhooksRepository) GetWebhook(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var webhook models.Webhook
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&webhook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook %s: %w", id, err)
	}
	return &webhook, nil
}

// LogAttempt records one delivery attempt. Logging failures are surfaced to
// the caller but never retried themselves.
func (r *WebhooksRepository) LogAttempt(ctx context.Context, log *models.WebhookLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("log webhook attempt: %w", err)
	}
	return nil
}
