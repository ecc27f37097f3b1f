package usage

import (
	"context"
	"fmt"
	"time"

	"creditgate/internal/models"
	"creditgate/internal/queue"
	"creditgate/internal/utils"
)

// Worker drains the usage queue into the record store in batches.
type Worker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	store       RecordStore
	config      *queue.Config
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a usage queue worker.
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, store RecordStore, config *queue.Config) *Worker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		store:       store,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a usage record to the queue
func (w *Worker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

// run is the main worker loop
func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	logger := utils.NewLogger("usage-worker")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Usage worker stopping")
			return
		case <-ctx.Done():
			logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx, logger)
		}
	}
}

// processBatch processes a batch of usage records
func (w *Worker) processBatch(ctx context.Context, logger *utils.Logger) {
	records, err := w.queue.DequeueBatch(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		logger.Error("Failed to dequeue usage records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(records) == 0 {
		return
	}

	logger.Debug("Processing usage batch", "count", len(records))

	if err := w.store.CreateBatch(ctx, records); err != nil {
		logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		// Fall back to individual inserts with retries
		for _, record := range records {
			if err := w.processRecord(ctx, record, logger); err != nil {
				logger.Error("Failed to process usage record", "error", err)
			}
		}
	}
}

// processRecord persists a single usage record with retries
func (w *Worker) processRecord(ctx context.Context, record *models.UsageRecord, logger *utils.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.store.Create(ctx, record); err != nil {
			lastErr = err
			logger.Error("Failed to insert usage record", "attempt", attempt, "error", err)
			continue
		}

		logger.Debug("Usage record inserted", "request_id", record.RequestID)
		return nil
	}

	// Max retries exceeded - add to dead letter queue
	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			logger.Warn("Usage record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length
func (w *Worker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterEntries returns entries from the dead letter queue
func (w *Worker) GetDeadLetterEntries(ctx context.Context, maxEntries int) ([]queue.DeadLetterEntry, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxEntries)
}

// RetryDeadLetterEntry re-enqueues a failed record from the dead letter queue
func (w *Worker) RetryDeadLetterEntry(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	entries, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter entries: %w", err)
	}

	for _, entry := range entries {
		if entry.ID == id {
			if err := w.queue.Enqueue(ctx, entry.Record); err != nil {
				return fmt.Errorf("failed to re-enqueue record: %w", err)
			}

			if err := w.dlq.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove from DLQ: %w", err)
			}

			return nil
		}
	}

	return queue.ErrEntryNotFound
}
