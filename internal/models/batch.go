package models

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportStatus represents the status of an import job
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ImportStatus) Terminal() bool {
	return s == ImportStatusCompleted || s == ImportStatusFailed
}

// ImportFormat represents the file format for import
type ImportFormat string

const (
	ImportFormatCSV  ImportFormat = "csv"
	ImportFormatXLSX ImportFormat = "xlsx"
)

// FormatForFile derives the import format from an uploaded file's name.
func FormatForFile(name string) ImportFormat {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return ImportFormatCSV
	}
	return ImportFormatXLSX
}

// RowError records a single non-fatal row failure during ingestion.
type RowError struct {
	Row   int    `json:"row"`
	SKU   string `json:"sku,omitempty"`
	Error string `json:"error"`
}

// ImportBatch is one import job processing one uploaded file end-to-end.
// Progress counters are mutated only through the batch tracker; everything
// else reads snapshots.
type ImportBatch struct {
	ID                uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	FileName          string       `json:"fileName" gorm:"type:varchar(255);not null"`
	Format            ImportFormat `json:"format" gorm:"type:varchar(10)"`
	TotalRecords      int          `json:"totalRecords"`
	ProcessedRecords  int          `json:"processedRecords"`
	SuccessfulRecords int          `json:"successfulRecords"`
	FailedRecords     int          `json:"failedRecords"`
	Status            ImportStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	Errors            JSONArray    `json:"errors" gorm:"type:jsonb"`
	CreatedBy         *string      `json:"createdBy,omitempty" gorm:"type:varchar(255)"`
	CreatedAt         time.Time    `json:"createdAt"`
	CompletedAt       *time.Time   `json:"completedAt,omitempty"`
}

func (ImportBatch) TableName() string {
	return "import_batches"
}

// SetErrorWindow stores the given row errors in the persisted error window.
func (b *ImportBatch) SetErrorWindow(errs []RowError) {
	window := make(JSONArray, 0, len(errs))
	for _, e := range errs {
		window = append(window, JSON{"row": e.Row, "sku": e.SKU, "error": e.Error})
	}
	b.Errors = window
}

// ProgressSnapshot is a point-in-time immutable copy of a batch's counters.
// The wire format matches what live status viewers consume.
type ProgressSnapshot struct {
	BatchID    string       `json:"batch_id"`
	Status     ImportStatus `json:"status"`
	Processed  int          `json:"processed"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Progress   int          `json:"progress"`
}

// Snapshot derives the current progress snapshot from the batch counters.
func (b *ImportBatch) Snapshot() ProgressSnapshot {
	progress := 0
	if b.TotalRecords > 0 {
		progress = b.ProcessedRecords * 100 / b.TotalRecords
	}
	return ProgressSnapshot{
		BatchID:    b.ID.String(),
		Status:     b.Status,
		Processed:  b.ProcessedRecords,
		Total:      b.TotalRecords,
		Successful: b.SuccessfulRecords,
		Failed:     b.FailedRecords,
		Progress:   progress,
	}
}

// MarshalBinary lets snapshots be published directly through go-redis.
func (s ProgressSnapshot) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// IngestResult is the final outcome of one ingestion run.
type IngestResult struct {
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Errors     []RowError `json:"errors,omitempty"`
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"`
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity  string                 `json:"entity"`
	Version string                 `json:"version"`
	Columns []ImportTemplateColumn `json:"columns"`
}

// ProductImportTemplate returns the template definition for product imports.
// Only the canonical columns are listed; the field mapper also accepts the
// alternate headers documented per column.
func ProductImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "products",
		Version: "1.0",
		Columns: []ImportTemplateColumn{
			{Name: "sku", Description: "Unique product SKU (also accepted: product_sku, item_sku, code, id)", Required: true, Type: "string", Example: "TSH-BLU-001"},
			{Name: "name", Description: "Product name (also accepted: product_name, item_name, title, product)", Required: false, Type: "string", Example: "Blue Cotton T-Shirt"},
			{Name: "description", Description: "Product description (also accepted: desc, product_description)", Required: false, Type: "string", Example: ""},
		},
	}
}
