package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/models"
	"github.com/nandu3112/product-importer/internal/repository"
)

// EventSink raises domain events. Satisfied by webhook.Dispatcher.
type EventSink interface {
	Send(ctx context.Context, eventType string, data map[string]interface{})
}

type ProductsHandler struct {
	products *repository.ProductsRepository
	events   EventSink
	logger   *logrus.Entry
}

func NewProductsHandler(products *repository.ProductsRepository, events EventSink, logger *logrus.Logger) *ProductsHandler {
	return &ProductsHandler{
		products: products,
		events:   events,
		logger:   logger.WithField("component", "products_handler"),
	}
}

// GetStats returns catalog-level counters.
// GET /api/v1/products/stats
func (h *ProductsHandler) GetStats(c *gin.Context) {
	count, err := h.products.CountProducts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to count products")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to count products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "total_products": count})
}

// DeleteAllProducts removes every product and raises product.deleted for
// each removed row.
// DELETE /api/v1/products
func (h *ProductsHandler) DeleteAllProducts(c *gin.Context) {
	deleted, err := h.products.DeleteAllProducts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Bulk delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Bulk delete failed"})
		return
	}

	for _, p := range deleted {
		h.events.Send(c.Request.Context(), models.EventProductDeleted, map[string]interface{}{
			"id":   p.ID.String(),
			"sku":  p.SKU,
			"name": p.Name,
		})
	}

	h.logger.WithField("deleted", len(deleted)).Info("Bulk delete completed")
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": len(deleted)})
}
