// Package batch tracks the lifecycle of one import run. A Tracker is owned
// by a single ingest goroutine but snapshotted concurrently by progress
// viewers, so all state is lock-guarded.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nandu3112/product-importer/internal/models"
)

// ErrInvalidState is returned when a lifecycle transition is attempted on a
// batch that has already reached a terminal status.
var ErrInvalidState = errors.New("import batch is in a terminal state")

// errorWindow bounds how many row errors are persisted with the batch.
// The full list stays in memory and is returned when the run finishes.
const errorWindow = 50

// BatchStore persists batch mutations. Satisfied by
// repository.BatchesRepository.
type BatchStore interface {
	Update(ctx context.Context, batch *models.ImportBatch) error
}

// Tracker guards an ImportBatch through pending → processing →
// completed|failed, persisting every mutation.
type Tracker struct {
	mu        sync.Mutex
	batch     *models.ImportBatch
	store     BatchStore
	allErrors []models.RowError
	advanced  bool
}

func NewTracker(batch *models.ImportBatch, store BatchStore) *Tracker {
	return &Tracker{batch: batch, store: store}
}

func (t *Tracker) BatchID() string {
	return t.batch.ID.String()
}

// Start moves the batch into processing. Only a pending batch can start.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch.Status != models.ImportStatusPending {
		return ErrInvalidState
	}
	t.batch.Status = models.ImportStatusProcessing
	return t.store.Update(ctx, t.batch)
}

// ReconcileTotal replaces the estimated total with the exact row count
// discovered during the pre-scan. Only allowed before the first Advance.
func (t *Tracker) ReconcileTotal(ctx context.Context, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch.Status.Terminal() || t.advanced {
		return ErrInvalidState
	}
	if t.batch.TotalRecords == total {
		return nil
	}
	t.batch.TotalRecords = total
	return t.store.Update(ctx, t.batch)
}

// Advance applies one chunk's outcome. Counters only move forward. The
// persisted error list is a sliding window of the most recent errors; the
// full list is kept in memory for the final result.
func (t *Tracker) Advance(ctx context.Context, processed, successful int, failed []models.RowError) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch.Status.Terminal() {
		return ErrInvalidState
	}
	t.advanced = true

	t.batch.ProcessedRecords += processed
	t.batch.SuccessfulRecords += successful
	t.batch.FailedRecords += len(failed)
	t.allErrors = append(t.allErrors, failed...)

	window := t.allErrors
	if len(window) > errorWindow {
		window = window[len(window)-errorWindow:]
	}
	t.batch.SetErrorWindow(window)

	return t.store.Update(ctx, t.batch)
}

// Complete marks the batch finished and returns the full error list.
func (t *Tracker) Complete(ctx context.Context) ([]models.RowError, error) {
	return t.finish(ctx, models.ImportStatusCompleted)
}

// Fail marks the batch failed with a terminal reason and returns the full
// error list, the reason appended as a row-0 entry.
func (t *Tracker) Fail(ctx context.Context, reason string) ([]models.RowError, error) {
	t.mu.Lock()
	t.allErrors = append(t.allErrors, models.RowError{Row: 0, Error: reason})
	t.mu.Unlock()
	return t.finish(ctx, models.ImportStatusFailed)
}

func (t *Tracker) finish(ctx context.Context, status models.ImportStatus) ([]models.RowError, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.batch.Status.Terminal() {
		return nil, ErrInvalidState
	}
	t.batch.Status = status
	now := time.Now()
	t.batch.CompletedAt = &now

	window := t.allErrors
	if len(window) > errorWindow {
		window = window[len(window)-errorWindow:]
	}
	t.batch.SetErrorWindow(window)

	if err := t.store.Update(ctx, t.batch); err != nil {
		return nil, err
	}

	all := make([]models.RowError, len(t.allErrors))
	copy(all, t.allErrors)
	return all, nil
}

// Snapshot returns the current progress view of the batch.
func (t *Tracker) Snapshot() models.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batch.Snapshot()
}
