package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/models"
	"github.com/nandu3112/product-importer/internal/repository"
)

// WebhookTester performs synchronous test deliveries. Satisfied by
// webhook.Dispatcher.
type WebhookTester interface {
	TestWebhook(ctx context.Context, id uuid.UUID) (*models.WebhookTestResult, error)
}

type WebhookHandler struct {
	dispatcher WebhookTester
	logger     *logrus.Entry
}

func NewWebhookHandler(dispatcher WebhookTester, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "webhook_handler"),
	}
}

// TestWebhook fires a sample payload at one webhook and reports the result.
// POST /api/v1/webhooks/:id/test
func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid webhook id"})
		return
	}

	result, err := h.dispatcher.TestWebhook(c.Request.Context(), id)
	if errors.Is(err, repository.ErrWebhookNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Webhook not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Webhook test failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Webhook test failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
