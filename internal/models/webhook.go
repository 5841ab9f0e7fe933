package models

import (
	"time"

	"github.com/google/uuid"
)

// Event vocabulary. Fixed; extend only by adding new members.
const (
	EventProductCreated  = "product.created"
	EventProductUpdated  = "product.updated"
	EventProductDeleted  = "product.deleted"
	EventImportStarted   = "import.started"
	EventImportCompleted = "import.completed"
	EventImportFailed    = "import.failed"
)

// EventTypes lists every event a webhook can subscribe to.
func EventTypes() []string {
	return []string{
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
		EventImportStarted,
		EventImportCompleted,
		EventImportFailed,
	}
}

// Webhook is an HTTP callback registered against a single event type.
type Webhook struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	URL       string    `json:"url" gorm:"type:varchar(2048);not null"`
	EventType string    `json:"eventType" gorm:"type:varchar(50);not null;index:idx_webhooks_event_active"`
	IsActive  bool      `json:"isActive" gorm:"default:true;index:idx_webhooks_event_active"`
	SecretKey string    `json:"-" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

// WebhookLog is an append-only record of one delivery attempt. Retries
// produce additional rows; RetryCount carries the attempt ordinal.
type WebhookLog struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	WebhookID    uuid.UUID `json:"webhookId" gorm:"type:uuid;not null;index"`
	Webhook      *Webhook  `json:"-" gorm:"foreignKey:WebhookID;constraint:OnDelete:CASCADE"`
	EventType    string    `json:"eventType" gorm:"type:varchar(50);not null"`
	Payload      JSON      `json:"payload" gorm:"type:jsonb"`
	ResponseCode *int      `json:"responseCode,omitempty"`
	ResponseBody string    `json:"responseBody" gorm:"type:text"`
	ErrorMessage string    `json:"errorMessage" gorm:"type:text"`
	Duration     float64   `json:"duration"`
	RetryCount   int       `json:"retryCount"`
	IsSuccess    bool      `json:"isSuccess" gorm:"index"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

// WebhookTestResult is the synchronous outcome of a test delivery.
type WebhookTestResult struct {
	Success      bool    `json:"success"`
	StatusCode   int     `json:"status_code,omitempty"`
	ResponseTime float64 `json:"response_time,omitempty"`
	ResponseBody string  `json:"response_body,omitempty"`
	Message      string  `json:"message"`
	Error        string  `json:"error,omitempty"`
}
