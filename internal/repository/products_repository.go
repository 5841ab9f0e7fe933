package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nandu3112/product-importer/internal/mapper"
	"github.com/nandu3112/product-importer/internal/models"
)

type ProductsRepository struct {
	db *gorm.DB
}

func NewProductsRepository(db *gorm.DB) *ProductsRepository {
	return &ProductsRepository{db: db}
}

// UpsertResult represents the outcome of one chunk upsert.
type UpsertResult struct {
	Created []*models.Product
	Updated []*models.Product
	Total   int
}

// UpsertMany creates or updates products matched by SKU, case-insensitively,
// inside a single transaction. The whole chunk commits or rolls back
// together. Duplicate SKUs within the chunk collapse last-write-wins before
// any row touches the database, so re-running the same chunk is idempotent.
func (r *ProductsRepository) UpsertMany(ctx context.Context, records []mapper.ProductFields) (*UpsertResult, error) {
	result := &UpsertResult{
		Created: make([]*models.Product, 0, len(records)),
		Updated: make([]*models.Product, 0, len(records)),
	}

	deduped := collapseBySKU(records)
	result.Total = len(deduped)
	if len(deduped) == 0 {
		return result, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range deduped {
			var existing models.Product
			if err := tx.Where("LOWER(sku) = LOWER(?)", rec.SKU).Limit(1).Find(&existing).Error; err != nil {
				return fmt.Errorf("lookup sku %s: %w", rec.SKU, err)
			}

			if existing.ID != uuid.Nil {
				now := time.Now()
				updates := map[string]interface{}{
					"name":        rec.Name,
					"description": rec.Description,
					"is_active":   rec.IsActive,
					"updated_at":  now,
				}
				if err := tx.Model(&models.Product{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
					return fmt.Errorf("update sku %s: %w", rec.SKU, err)
				}

				existing.Name = rec.Name
				existing.Description = rec.Description
				existing.IsActive = rec.IsActive
				existing.UpdatedAt = now
				updated := existing
				result.Updated = append(result.Updated, &updated)
				continue
			}

			product := &models.Product{
				ID:          uuid.New(),
				SKU:         rec.SKU,
				Name:        rec.Name,
				Description: rec.Description,
				IsActive:    rec.IsActive,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
			if err := tx.Create(product).Error; err != nil {
				return fmt.Errorf("create sku %s: %w", rec.SKU, err)
			}
			result.Created = append(result.Created, product)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// collapseBySKU keeps the last occurrence of each SKU, preserving the
// position of the first occurrence so chunk order stays stable.
func collapseBySKU(records []mapper.ProductFields) []mapper.ProductFields {
	deduped := make([]mapper.ProductFields, 0, len(records))
	index := make(map[string]int, len(records))
	for _, rec := range records {
		key := strings.ToUpper(rec.SKU)
		if pos, seen := index[key]; seen {
			deduped[pos] = rec
			continue
		}
		index[key] = len(deduped)
		deduped = append(deduped, rec)
	}
	return deduped
}

// CountProducts returns the total number of products.
func (r *ProductsRepository) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Product{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteAllProducts removes every product and returns the removed rows so
// the caller can emit deletion events. Runs in a single transaction.
func (r *ProductsRepository) DeleteAllProducts(ctx context.Context) ([]*models.Product, error) {
	var deleted []*models.Product

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Find(&deleted).Error; err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		if len(deleted) == 0 {
			return nil
		}
		if err := tx.Where("1 = 1").Delete(&models.Product{}).Error; err != nil {
			return fmt.Errorf("delete products: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}
