package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

const insertChangeSQL = `
	INSERT INTO value_changes (id, received_at, instance_id, property, value, set_reason, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// ChangeWriter consumes ValueChange from the router store buffer and writes
// to the value_changes table.
type ChangeWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the change router
	input *buffer.Growable[model.ValueChange]

	// Database
	db DB

	// Batching
	batch       []changeRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewChangeWriter creates a new ChangeWriter.
func NewChangeWriter(
	cfg WriterConfig,
	input *buffer.Growable[model.ValueChange],
	db DB,
	logger *slog.Logger,
) *ChangeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &ChangeWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("component", "change_writer"),
		batch:  make([]changeRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming changes and writing to the database.
func (w *ChangeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("change writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Changes still queued in the input
// are drained into a final flush bounded by ctx.
func (w *ChangeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping change writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("change writer stopped")
	case <-ctx.Done():
		w.logger.Warn("change writer stop timed out")
	}

	for _, change := range w.input.DrainTo(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, w.transform(change))
		w.batchMu.Unlock()
	}

	// Final flush
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *ChangeWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *ChangeWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			change, ok := w.input.TryReceive()
			if !ok {
				// Buffer empty, wait a bit before trying again
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleChange(change)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *ChangeWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleChange transforms and adds a change to the batch.
func (w *ChangeWriter) handleChange(change model.ValueChange) {
	row := w.transform(change)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a ValueChange to a changeRow. A missing value is
// stored as JSON null.
func (w *ChangeWriter) transform(change model.ValueChange) changeRow {
	value := change.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return changeRow{
		ID:         change.ID,
		ReceivedAt: change.ReceivedAt.UTC(),
		InstanceID: change.InstanceID,
		Property:   change.Property,
		Value:      value,
		SetReason:  change.SetReason,
		Source:     w.cfg.Source,
	}
}

// flush writes the current batch to the database.
func (w *ChangeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]changeRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed value changes",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *ChangeWriter) batchInsert(ctx context.Context, rows []changeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertChangeSQL,
			r.ID, r.ReceivedAt, r.InstanceID, r.Property, r.Value, r.SetReason, r.Source)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
