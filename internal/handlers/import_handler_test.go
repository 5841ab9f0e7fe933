package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandu3112/product-importer/internal/batch"
	"github.com/nandu3112/product-importer/internal/mapper"
	"github.com/nandu3112/product-importer/internal/models"
	"github.com/nandu3112/product-importer/internal/progress"
	"github.com/nandu3112/product-importer/internal/repository"
)

type fakeBatchStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]models.ImportBatch
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{batches: make(map[uuid.UUID]models.ImportBatch)}
}

func (s *fakeBatchStore) Create(_ context.Context, b *models.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = *b
	return nil
}

func (s *fakeBatchStore) Update(_ context.Context, b *models.ImportBatch) error {
	return s.Create(context.Background(), b)
}

func (s *fakeBatchStore) Get(_ context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}
	return &b, nil
}

func (s *fakeBatchStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type fakeRunner struct {
	mu    sync.Mutex
	paths []string
}

func (r *fakeRunner) Run(ctx context.Context, filePath string, tracker *batch.Tracker) (models.IngestResult, error) {
	r.mu.Lock()
	r.paths = append(r.paths, filePath)
	r.mu.Unlock()
	defer os.Remove(filePath)

	if err := tracker.Start(ctx); err != nil {
		return models.IngestResult{}, err
	}
	if _, err := tracker.Complete(ctx); err != nil {
		return models.IngestResult{}, err
	}
	return models.IngestResult{}, nil
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func newTestRouter(store *fakeBatchStore, runner *fakeRunner, broadcaster *progress.Broadcaster) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	runners := map[mapper.Strategy]ImportRunner{
		mapper.StrategyStrict:  runner,
		mapper.StrategyKeyword: runner,
	}
	h := NewImportHandler(store, runners, mapper.StrategyStrict, broadcaster, logger)

	router := gin.New()
	router.POST("/api/v1/imports", h.ImportProducts)
	router.GET("/api/v1/imports/template", h.GetImportTemplate)
	router.GET("/api/v1/imports/:id/progress", h.GetProgress)
	router.GET("/api/v1/imports/:id/ws", h.StreamProgress)
	return router
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestImportProductsAccepted(t *testing.T) {
	store := newFakeBatchStore()
	runner := &fakeRunner{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(store, runner, progress.NewBroadcaster(nil, logger))

	body, contentType := multipartUpload(t, "products.csv", "sku,name\nA1,Widget\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["batch_id"])
	assert.Equal(t, "pending", resp["status"])

	assert.Equal(t, 1, store.count())

	// The batch is persisted pending with the exact row count and format.
	batchID := uuid.MustParse(resp["batch_id"].(string))
	created, err := store.Get(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, created.TotalRecords)
	assert.Equal(t, models.ImportFormatCSV, created.Format)

	require.Eventually(t, func() bool { return runner.calls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestImportProductsMissingFile(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(newFakeBatchStore(), &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportProductsUnsupportedExtension(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(newFakeBatchStore(), &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	body, contentType := multipartUpload(t, "products.txt", "sku,name\nA1,Widget\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportProductsRejectsFileWithoutSKUColumn(t *testing.T) {
	store := newFakeBatchStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(store, &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	body, contentType := multipartUpload(t, "products.csv", "name,price\nWidget,9.99\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "SKU")
	assert.Equal(t, 0, store.count())
}

func TestGetProgress(t *testing.T) {
	store := newFakeBatchStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(store, &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	id := uuid.New()
	require.NoError(t, store.Create(context.Background(), &models.ImportBatch{
		ID:               id,
		FileName:         "products.csv",
		TotalRecords:     100,
		ProcessedRecords: 50,
		Status:           models.ImportStatusProcessing,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+id.String()+"/progress", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var snap models.ProgressSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, id.String(), snap.BatchID)
	assert.Equal(t, 50, snap.Processed)
	assert.Equal(t, 50, snap.Progress)
}

func TestGetProgressNotFound(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(newFakeBatchStore(), &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+uuid.NewString()+"/progress", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/imports/not-a-uuid/progress", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImportTemplateCSV(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(newFakeBatchStore(), &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/template?format=csv", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, strings.ToLower(w.Body.String()), "sku")
}

func TestStreamProgressSendsInitialSnapshot(t *testing.T) {
	store := newFakeBatchStore()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	router := newTestRouter(store, &fakeRunner{}, progress.NewBroadcaster(nil, logger))

	id := uuid.New()
	require.NoError(t, store.Create(context.Background(), &models.ImportBatch{
		ID:                id,
		FileName:          "products.csv",
		TotalRecords:      10,
		ProcessedRecords:  10,
		SuccessfulRecords: 10,
		Status:            models.ImportStatusCompleted,
	}))

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/imports/" + id.String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap models.ProgressSnapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, models.ImportStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
}
