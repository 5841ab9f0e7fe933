package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nandu3112/product-importer/internal/models"
)

// ErrBatchNotFound is returned when no import batch exists for the given id.
var ErrBatchNotFound = errors.New("import batch not found")

type BatchesRepository struct {
	db *gorm.DB
}

func NewBatchesRepository(db *gorm.DB) *BatchesRepository {
	return &BatchesRepository{db: db}
}

func (r *BatchesRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return fmt.Errorf("create import batch: %w", err)
	}
	return nil
}

// Update persists the batch's mutable fields. Zero counters are written
// through, so Save is used rather than Updates.
func (r *BatchesRepository) Update(ctx context.Context, batch *models.ImportBatch) error {
	if err := r.db.WithContext(ctx).Save(batch).Error; err != nil {
		return fmt.Errorf("update import batch %s: %w", batch.ID, err)
	}
	return nil
}

func (r *BatchesRepository) Get(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import batch %s: %w", id, err)
	}
	return &batch, nil
}
