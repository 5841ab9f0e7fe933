package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/batch"
	"github.com/nandu3112/product-importer/internal/ingest"
	"github.com/nandu3112/product-importer/internal/mapper"
	"github.com/nandu3112/product-importer/internal/models"
	"github.com/nandu3112/product-importer/internal/progress"
	"github.com/nandu3112/product-importer/internal/repository"
)

// BatchStore persists import batches. Satisfied by
// repository.BatchesRepository.
type BatchStore interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	Update(ctx context.Context, batch *models.ImportBatch) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error)
}

// ImportRunner processes one uploaded file. Satisfied by ingest.Ingestor.
type ImportRunner interface {
	Run(ctx context.Context, filePath string, tracker *batch.Tracker) (models.IngestResult, error)
}

type ImportHandler struct {
	batches         BatchStore
	runners         map[mapper.Strategy]ImportRunner
	defaultStrategy mapper.Strategy
	broadcaster     *progress.Broadcaster
	upgrader        websocket.Upgrader
	logger          *logrus.Entry
}

func NewImportHandler(batches BatchStore, runners map[mapper.Strategy]ImportRunner, defaultStrategy mapper.Strategy, broadcaster *progress.Broadcaster, logger *logrus.Logger) *ImportHandler {
	return &ImportHandler{
		batches:         batches,
		runners:         runners,
		defaultStrategy: defaultStrategy,
		broadcaster:     broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.WithField("component", "import_handler"),
	}
}

// ImportProducts accepts an uploaded product file and starts processing it
// in the background.
// POST /api/v1/imports
func (h *ImportHandler) ImportProducts(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "No file provided. Upload the file in the 'file' form field.",
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".csv", ".xlsx", ".xlsm", ".xls":
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Unsupported file type %q. Supported: .csv, .xlsx", ext),
		})
		return
	}

	strategy := h.strategyFrom(c.Query("strategy"))
	runner, ok := h.runners[strategy]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("Unknown mapping strategy %q", strategy),
		})
		return
	}

	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("import_%s%s", uuid.New(), ext))
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		h.logger.WithError(err).Error("Failed to save uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to store uploaded file",
		})
		return
	}

	if err := ingest.ValidateStructure(tmpPath, strategy); err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	// The batch is created with the exact row count so progress queries
	// never see total=0 on a live batch.
	total, err := ingest.CountRows(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	importBatch := &models.ImportBatch{
		ID:           uuid.New(),
		FileName:     file.Filename,
		Format:       models.FormatForFile(file.Filename),
		TotalRecords: total,
		Status:       models.ImportStatusPending,
	}
	if userID := c.GetHeader("X-User-ID"); userID != "" {
		importBatch.CreatedBy = &userID
	}
	if err := h.batches.Create(c.Request.Context(), importBatch); err != nil {
		os.Remove(tmpPath)
		h.logger.WithError(err).Error("Failed to create import batch")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to create import batch",
		})
		return
	}

	tracker := batch.NewTracker(importBatch, h.batches)
	// The run outlives the HTTP request.
	go func() {
		if _, err := runner.Run(context.Background(), tmpPath, tracker); err != nil {
			h.logger.WithFields(logrus.Fields{
				"batch_id": importBatch.ID,
				"error":    err.Error(),
			}).Error("Import run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"batch_id": importBatch.ID,
		"status":   importBatch.Status,
		"message":  "Import accepted and queued for processing",
	})
}

// GetProgress returns a point-in-time progress snapshot for a batch.
// GET /api/v1/imports/:id/progress
func (h *ImportHandler) GetProgress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid batch id"})
		return
	}

	importBatch, err := h.batches.Get(c.Request.Context(), id)
	if errors.Is(err, repository.ErrBatchNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Import batch not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load import batch")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load import batch"})
		return
	}

	c.JSON(http.StatusOK, importBatch.Snapshot())
}

// StreamProgress upgrades to a websocket and pushes progress snapshots
// until the batch reaches a terminal status or the client goes away.
// GET /api/v1/imports/:id/ws
func (h *ImportHandler) StreamProgress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid batch id"})
		return
	}

	importBatch, err := h.batches.Get(c.Request.Context(), id)
	if errors.Is(err, repository.ErrBatchNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Import batch not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load import batch"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The persisted snapshot goes out first; live updates follow.
	snap := importBatch.Snapshot()
	if err := conn.WriteJSON(snap); err != nil {
		return
	}
	if snap.Status.Terminal() {
		return
	}

	updates, cancel := h.broadcaster.Subscribe(id.String())
	defer cancel()

	// Reads only serve to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// GetImportTemplate returns the canonical import columns, as JSON or as a
// downloadable CSV with the header row.
// GET /api/v1/imports/template
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	template := models.ProductImportTemplate()

	if c.DefaultQuery("format", "json") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename=products_import_template.csv")

		writer := csv.NewWriter(c.Writer)
		defer writer.Flush()

		headers := make([]string, len(template.Columns))
		for i, col := range template.Columns {
			headers[i] = col.Name
		}
		writer.Write(headers)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"template": template,
	})
}

func (h *ImportHandler) strategyFrom(value string) mapper.Strategy {
	switch value {
	case "":
		return h.defaultStrategy
	case string(mapper.StrategyStrict):
		return mapper.StrategyStrict
	case string(mapper.StrategyKeyword):
		return mapper.StrategyKeyword
	default:
		return mapper.Strategy(value)
	}
}
