// Package webhook delivers signed event notifications to subscribed HTTP
// endpoints, decoupled from the code paths that raise the events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/models"
)

const (
	userAgent       = "Acme-Products/1.0"
	envelopeVersion = "1.0"

	deliveryTimeout = 30 * time.Second
	testTimeout     = 10 * time.Second

	// maxRetries is the number of re-deliveries after the first failed
	// attempt. Retry n waits 2^n seconds.
	maxRetries = 3

	defaultWorkers = 4
	queueDepth     = 256

	// responseBodyLimit caps how much of the endpoint's response is logged.
	responseBodyLimit = 1000
)

// WebhookStore is the persistence surface the dispatcher needs. Satisfied
// by repository.WebhooksRepository.
type WebhookStore interface {
	ActiveForEvent(ctx context.Context, eventType string) ([]models.Webhook, error)
	GetWebhook(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	LogAttempt(ctx context.Context, log *models.WebhookLog) error
}

// delivery is one queued attempt against one endpoint.
type delivery struct {
	webhook   models.Webhook
	eventType string
	envelope  models.JSON
	payload   []byte
	attempt   int
}

// Dispatcher fans events out to active webhooks on a bounded worker pool.
// Failed deliveries are re-enqueued on a timer with exponential backoff.
type Dispatcher struct {
	store  WebhookStore
	client *http.Client
	logger *logrus.Entry

	// backoff maps a retry ordinal (1-based) to its delay. Overridable in
	// tests to avoid real sleeps.
	backoff func(retry int) time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan delivery
	wg     sync.WaitGroup
}

func NewDispatcher(store WebhookStore, logger *logrus.Logger) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: deliveryTimeout},
		logger:  logger.WithField("component", "webhook_dispatcher"),
		backoff: func(retry int) time.Duration { return time.Duration(1<<retry) * time.Second },
		jobs:    make(chan delivery, queueDepth),
	}
	for i := 0; i < defaultWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Send raises an event. It looks up the active webhooks for the event type
// and enqueues one delivery per endpoint; a slow or failing endpoint never
// affects the caller or the other endpoints. Enqueueing is non-blocking:
// with a saturated queue the delivery is dropped and logged.
func (d *Dispatcher) Send(ctx context.Context, eventType string, data map[string]interface{}) {
	webhooks, err := d.store.ActiveForEvent(ctx, eventType)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"event_type": eventType,
			"error":      err.Error(),
		}).Error("Failed to look up webhooks for event")
		return
	}
	if len(webhooks) == 0 {
		return
	}

	envelope := models.JSON{
		"event":     eventType,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   envelopeVersion,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		d.logger.WithField("event_type", eventType).WithError(err).Error("Failed to serialize webhook payload")
		return
	}

	for _, wh := range webhooks {
		d.enqueue(delivery{
			webhook:   wh,
			eventType: eventType,
			envelope:  envelope,
			payload:   payload,
		})
	}
}

// TestWebhook synchronously delivers a sample payload to one webhook,
// regardless of its active flag. No retries; a shorter timeout applies.
func (d *Dispatcher) TestWebhook(ctx context.Context, id uuid.UUID) (*models.WebhookTestResult, error) {
	wh, err := d.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}

	envelope := models.JSON{
		"event": "webhook.test",
		"data": map[string]interface{}{
			"test":    true,
			"message": "This is a test webhook delivery",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   envelopeVersion,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("serialize test payload: %w", err)
	}

	client := &http.Client{Timeout: testTimeout}
	log := d.attempt(ctx, client, delivery{
		webhook:   *wh,
		eventType: "webhook.test",
		envelope:  envelope,
		payload:   payload,
	})

	result := &models.WebhookTestResult{
		Success:      log.IsSuccess,
		ResponseTime: log.Duration,
		ResponseBody: log.ResponseBody,
	}
	if log.ResponseCode != nil {
		result.StatusCode = *log.ResponseCode
	}
	if log.IsSuccess {
		result.Message = "Webhook delivered successfully"
	} else {
		result.Message = "Webhook delivery failed"
		result.Error = log.ErrorMessage
	}
	return result, nil
}

// Close drains no further work: enqueued deliveries finish, scheduled
// retries that fire afterwards are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) enqueue(del delivery) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- del:
	default:
		d.logger.WithFields(logrus.Fields{
			"webhook_id": del.webhook.ID,
			"event_type": del.eventType,
		}).Warn("Webhook queue saturated, dropping delivery")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for del := range d.jobs {
		log := d.attempt(context.Background(), d.client, del)
		if log.IsSuccess || del.attempt >= maxRetries {
			continue
		}
		retry := del.attempt + 1
		next := del
		next.attempt = retry
		time.AfterFunc(d.backoff(retry), func() { d.enqueue(next) })
	}
}

// attempt performs one HTTP delivery and records a WebhookLog row for it.
func (d *Dispatcher) attempt(ctx context.Context, client *http.Client, del delivery) *models.WebhookLog {
	log := &models.WebhookLog{
		ID:         uuid.New(),
		WebhookID:  del.webhook.ID,
		EventType:  del.eventType,
		Payload:    del.envelope,
		RetryCount: del.attempt,
		CreatedAt:  time.Now(),
	}

	start := time.Now()
	status, body, err := d.post(ctx, client, del)
	log.Duration = time.Since(start).Seconds()

	if err != nil {
		log.ErrorMessage = err.Error()
	} else {
		code := status
		log.ResponseCode = &code
		log.ResponseBody = body
		log.IsSuccess = status >= 200 && status < 300
		if !log.IsSuccess {
			log.ErrorMessage = fmt.Sprintf("endpoint returned status %d", status)
		}
	}

	if logErr := d.store.LogAttempt(ctx, log); logErr != nil {
		d.logger.WithField("webhook_id", del.webhook.ID).WithError(logErr).Error("Failed to record webhook attempt")
	}

	d.logger.WithFields(logrus.Fields{
		"webhook_id": del.webhook.ID,
		"event_type": del.eventType,
		"attempt":    del.attempt,
		"success":    log.IsSuccess,
	}).Debug("Webhook delivery attempt finished")

	return log
}

func (d *Dispatcher) post(ctx context.Context, client *http.Client, del delivery) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.webhook.URL, bytes.NewReader(del.payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", del.eventType)
	req.Header.Set("X-Webhook-ID", del.webhook.ID.String())
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if del.webhook.SecretKey != "" {
		req.Header.Set("X-Webhook-Signature", Sign(del.webhook.SecretKey, del.payload))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(body), nil
}

// Sign computes the HMAC-SHA256 signature header value for a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
