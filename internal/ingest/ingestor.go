// Package ingest turns uploaded product files into upserted rows, driving
// the batch lifecycle, progress broadcasting and event delivery along the
// way. One ingestor run owns one batch; runs for different batches may
// proceed in parallel.
package ingest

import (
	"context"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nandu3112/product-importer/internal/batch"
	"github.com/nandu3112/product-importer/internal/mapper"
	"github.com/nandu3112/product-importer/internal/models"
	"github.com/nandu3112/product-importer/internal/repository"
)

// Chunk size tiers by file size. Larger files get larger chunks for
// throughput, capped so a chunk's rows stay comfortably in memory.
const (
	smallFileBytes  = 1 << 20
	mediumFileBytes = 16 << 20

	smallChunk  = 500
	mediumChunk = 5000
	largeChunk  = 20000
)

// ProductStore persists mapped rows. Satisfied by
// repository.ProductsRepository.
type ProductStore interface {
	UpsertMany(ctx context.Context, records []mapper.ProductFields) (*repository.UpsertResult, error)
}

// EventSink raises domain events. Satisfied by webhook.Dispatcher.
type EventSink interface {
	Send(ctx context.Context, eventType string, data map[string]interface{})
}

// ProgressPublisher pushes progress snapshots to live viewers. Satisfied by
// progress.Broadcaster.
type ProgressPublisher interface {
	Publish(ctx context.Context, snap models.ProgressSnapshot)
}

// Options tune one ingestor. Zero values select sensible defaults.
type Options struct {
	// ChunkSize forces a fixed chunk size. 0 derives it from file size.
	ChunkSize int
	// Strategy selects the column-matching strategy.
	Strategy mapper.Strategy
	// MemoryCeiling is a soft heap limit in bytes. When crossed between
	// chunks, memory is returned to the OS and the run may throttle.
	// 0 disables the guard.
	MemoryCeiling uint64
	// Throttle is slept after relieving memory pressure.
	Throttle time.Duration
}

// Ingestor processes uploaded files chunk by chunk.
type Ingestor struct {
	products ProductStore
	events   EventSink
	progress ProgressPublisher
	mapper   *mapper.Mapper
	opts     Options
	logger   *logrus.Entry
}

func NewIngestor(products ProductStore, events EventSink, progress ProgressPublisher, opts Options, logger *logrus.Logger) *Ingestor {
	return &Ingestor{
		products: products,
		events:   events,
		progress: progress,
		mapper:   mapper.New(opts.Strategy),
		opts:     opts,
		logger:   logger.WithField("component", "ingestor"),
	}
}

// Run processes one uploaded file against one batch tracker. The file is
// removed when the run finishes, successfully or not. Row-level problems
// never abort the run; infrastructure failures and cancellation mark the
// batch failed.
func (ing *Ingestor) Run(ctx context.Context, filePath string, tracker *batch.Tracker) (models.IngestResult, error) {
	defer os.Remove(filePath)

	log := ing.logger.WithField("batch_id", tracker.BatchID())

	// Re-scan for the exact total before the batch goes processing, so no
	// observable processing snapshot ever carries a stale count.
	total, err := CountRows(filePath)
	if err != nil {
		return ing.fail(ctx, tracker, err)
	}
	if err := tracker.ReconcileTotal(ctx, total); err != nil {
		return ing.fail(ctx, tracker, err)
	}
	if err := tracker.Start(ctx); err != nil {
		return models.IngestResult{}, err
	}

	src, err := openSource(filePath)
	if err != nil {
		return ing.fail(ctx, tracker, err)
	}
	defer src.Close()

	chunkSize := ing.opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunkSizeFor(filePath)
	}
	log.WithFields(logrus.Fields{
		"total_rows": total,
		"chunk_size": chunkSize,
	}).Info("Starting import")

	ing.events.Send(ctx, models.EventImportStarted, map[string]interface{}{
		"batch_id":      tracker.BatchID(),
		"total_records": total,
	})
	ing.progress.Publish(ctx, tracker.Snapshot())

	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)

	headers := src.Headers()
	if ing.mapper.Strategy() == mapper.StrategyKeyword {
		// Keyword mode scans columns in file order; drop the columns that
		// cannot match any field up front.
		headers = mapper.ProjectHeaders(headers)
	}
	chunkNum := 0
	for {
		// Cooperative stop between chunks.
		select {
		case <-ctx.Done():
			result, _ := ing.fail(ctx, tracker, ctx.Err())
			return result, ctx.Err()
		default:
		}

		rows, readErr := src.ReadChunk(chunkSize)
		if readErr != nil && readErr != io.EOF {
			return ing.fail(ctx, tracker, readErr)
		}

		if len(rows) > 0 {
			records, failed := ing.mapChunk(headers, rows)

			if len(records) > 0 {
				upserted, err := ing.products.UpsertMany(ctx, records)
				if err != nil {
					return ing.fail(ctx, tracker, err)
				}
				ing.notifyProducts(ctx, upserted)
			}

			// Every row that mapped counts as successful, even when
			// duplicate SKUs collapse into a single upsert.
			successful := len(records)
			if err := tracker.Advance(ctx, len(rows), successful, failed); err != nil {
				return ing.fail(ctx, tracker, err)
			}
			ing.progress.Publish(ctx, tracker.Snapshot())

			log.WithFields(logrus.Fields{
				"chunk":      chunkNum,
				"rows":       len(rows),
				"successful": successful,
				"failed":     len(failed),
			}).Info("Chunk processed")
			chunkNum++

			ing.relieveMemoryPressure(baseline.HeapAlloc, log)
		}

		if readErr == io.EOF {
			break
		}
	}

	allErrors, err := tracker.Complete(ctx)
	if err != nil {
		return models.IngestResult{}, err
	}
	snap := tracker.Snapshot()
	ing.progress.Publish(ctx, snap)
	ing.events.Send(ctx, models.EventImportCompleted, map[string]interface{}{
		"batch_id":   tracker.BatchID(),
		"total":      snap.Total,
		"successful": snap.Successful,
		"failed":     snap.Failed,
	})

	log.WithFields(logrus.Fields{
		"successful": snap.Successful,
		"failed":     snap.Failed,
	}).Info("Import completed")

	return models.IngestResult{
		Successful: snap.Successful,
		Failed:     snap.Failed,
		Errors:     allErrors,
	}, nil
}

// mapChunk maps raw rows to product fields, isolating per-row failures.
func (ing *Ingestor) mapChunk(headers []string, rows []row) ([]mapper.ProductFields, []models.RowError) {
	records := make([]mapper.ProductFields, 0, len(rows))
	var failed []models.RowError

	for _, r := range rows {
		if r.err != nil {
			failed = append(failed, models.RowError{Row: r.num, Error: r.err.Error()})
			continue
		}
		fields, err := ing.mapper.Map(headers, r.values)
		if err != nil {
			failed = append(failed, models.RowError{
				Row:   r.num,
				SKU:   ing.mapper.RawSKU(headers, r.values),
				Error: err.Error(),
			})
			continue
		}
		records = append(records, fields)
	}
	return records, failed
}

// notifyProducts raises product.created/product.updated for upserted rows.
func (ing *Ingestor) notifyProducts(ctx context.Context, upserted *repository.UpsertResult) {
	for _, p := range upserted.Created {
		ing.events.Send(ctx, models.EventProductCreated, productEventData(p))
	}
	for _, p := range upserted.Updated {
		ing.events.Send(ctx, models.EventProductUpdated, productEventData(p))
	}
}

func productEventData(p *models.Product) map[string]interface{} {
	return map[string]interface{}{
		"id":        p.ID.String(),
		"sku":       p.SKU,
		"name":      p.Name,
		"is_active": p.IsActive,
	}
}

// fail finalizes the batch after an unrecoverable problem and broadcasts
// the terminal state.
func (ing *Ingestor) fail(ctx context.Context, tracker *batch.Tracker, cause error) (models.IngestResult, error) {
	// Finalization must proceed even when the cause is cancellation.
	finalizeCtx := context.WithoutCancel(ctx)

	allErrors, ferr := tracker.Fail(finalizeCtx, cause.Error())
	if ferr != nil {
		ing.logger.WithField("batch_id", tracker.BatchID()).WithError(ferr).Error("Failed to finalize batch")
	}
	snap := tracker.Snapshot()
	ing.progress.Publish(finalizeCtx, snap)
	ing.events.Send(finalizeCtx, models.EventImportFailed, map[string]interface{}{
		"batch_id": tracker.BatchID(),
		"error":    cause.Error(),
	})

	ing.logger.WithFields(logrus.Fields{
		"batch_id": tracker.BatchID(),
		"error":    cause.Error(),
	}).Error("Import failed")

	return models.IngestResult{
		Successful: snap.Successful,
		Failed:     snap.Failed,
		Errors:     allErrors,
	}, cause
}

// relieveMemoryPressure returns heap to the OS when growth since the start
// of the run crosses the configured ceiling, optionally throttling before
// the next chunk. Never fatal.
func (ing *Ingestor) relieveMemoryPressure(baselineHeap uint64, log *logrus.Entry) {
	if ing.opts.MemoryCeiling == 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	growth := ms.HeapAlloc - min(ms.HeapAlloc, baselineHeap)
	if growth < ing.opts.MemoryCeiling {
		return
	}

	debug.FreeOSMemory()
	log.WithField("heap_growth_bytes", growth).Warn("Memory ceiling crossed, reclaiming")
	if ing.opts.Throttle > 0 {
		time.Sleep(ing.opts.Throttle)
	}
}

// chunkSizeFor derives a chunk size from the file's size on disk. Unknown
// sizes use the small tier.
func chunkSizeFor(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return smallChunk
	}
	switch {
	case info.Size() <= smallFileBytes:
		return smallChunk
	case info.Size() <= mediumFileBytes:
		return mediumChunk
	default:
		return largeChunk
	}
}
