package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nandu3112/product-importer/internal/mapper"
	"github.com/nandu3112/product-importer/internal/repository"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func productColumns() []string {
	return []string{"id", "sku", "name", "description", "is_active", "created_at", "updated_at"}
}

func TestUpsertManyCreatesNewProduct(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewProductsRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products" WHERE LOWER(sku) = LOWER($1)`)).
		WillReturnRows(sqlmock.NewRows(productColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "products"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	result, err := repo.UpsertMany(context.Background(), []mapper.ProductFields{
		{SKU: "A1", Name: "Widget", Description: "first", IsActive: true},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Empty(t, result.Updated)
	assert.Equal(t, "A1", result.Created[0].SKU)
	assert.NotEqual(t, uuid.Nil, result.Created[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyUpdatesCaseInsensitiveMatch(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewProductsRepository(gormDB)

	existingID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	// Stored SKU differs only in case from the incoming record.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products" WHERE LOWER(sku) = LOWER($1)`)).
		WillReturnRows(sqlmock.NewRows(productColumns()).
			AddRow(existingID, "a1", "Old Name", "old", true, now, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "products" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.UpsertMany(context.Background(), []mapper.ProductFields{
		{SKU: "A1", Name: "New Name", Description: "new", IsActive: true},
	})
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Empty(t, result.Created)
	assert.Equal(t, existingID, result.Updated[0].ID)
	assert.Equal(t, "New Name", result.Updated[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyCollapsesDuplicateSKUsLastWriteWins(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewProductsRepository(gormDB)

	// Two rows for the same SKU (differing case) reach the database once.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products" WHERE LOWER(sku) = LOWER($1)`)).
		WillReturnRows(sqlmock.NewRows(productColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "products"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	result, err := repo.UpsertMany(context.Background(), []mapper.ProductFields{
		{SKU: "A1", Name: "First Write", IsActive: true},
		{SKU: "A1", Name: "Second Write", IsActive: true},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "Second Write", result.Created[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyRollsBackChunkOnError(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewProductsRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products" WHERE LOWER(sku) = LOWER($1)`)).
		WillReturnRows(sqlmock.NewRows(productColumns()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "products"`)).
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	result, err := repo.UpsertMany(context.Background(), []mapper.ProductFields{
		{SKU: "A1", Name: "Widget", IsActive: true},
	})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyEmptyChunk(t *testing.T) {
	gormDB, _ := setupMockDB(t)
	repo := repository.NewProductsRepository(gormDB)

	result, err := repo.UpsertMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.Total)
}

func TestDeleteAllProducts(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewProductsRepository(gormDB)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "products"`)).
		WillReturnRows(sqlmock.NewRows(productColumns()).
			AddRow(uuid.New(), "A1", "Widget", "", true, now, now).
			AddRow(uuid.New(), "B2", "Gadget", "", true, now, now))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "products"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	deleted, err := repo.DeleteAllProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
