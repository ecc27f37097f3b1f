package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// ModelSummary aggregates usage per model for reporting.
type ModelSummary struct {
	Model          string  `json:"model" db:"model"`
	OperationCount int64   `json:"operation_count" db:"operation_count"`
	InputTokens    int64   `json:"input_tokens" db:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens" db:"output_tokens"`
	TotalCost      float64 `json:"total_cost" db:"total_cost"`
}

// RecordStore persists usage records. Implemented by storage.UsageRepository
// (Postgres) and InMemoryRecordStore.
type RecordStore interface {
	Create(ctx context.Context, record *models.UsageRecord) error

	// CreateBatch inserts records in one transaction.
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error

	List(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.UsageRecord, error)

	SummarizeByModel(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]ModelSummary, error)
}

// Recorder writes one usage record per metered operation attempt, billed
// or not. Recording never fails the caller: persistence errors are logged
// and swallowed so a metrics outage cannot take down request handling.
type Recorder struct {
	store  RecordStore
	worker *Worker
	logger *utils.Logger
}

// NewRecorder creates a recorder that writes records synchronously.
func NewRecorder(store RecordStore) *Recorder {
	return &Recorder{
		store:  store,
		logger: utils.NewLogger("usage"),
	}
}

// NewQueuedRecorder creates a recorder that hands records to a queue worker
// and only falls back to a synchronous write when enqueueing fails.
func NewQueuedRecorder(store RecordStore, worker *Worker) *Recorder {
	return &Recorder{
		store:  store,
		worker: worker,
		logger: utils.NewLogger("usage"),
	}
}

// Track records one operation attempt. It always returns; failures are
// logged, never propagated.
func (r *Recorder) Track(ctx context.Context, record *models.UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if r.worker != nil {
		err := r.worker.Enqueue(ctx, record)
		if err == nil {
			return
		}
		r.logger.Warn("Failed to enqueue usage record, writing synchronously", "request_id", record.RequestID, "error", err)
	}

	if err := r.store.Create(ctx, record); err != nil {
		r.logger.Error("Failed to persist usage record", "request_id", record.RequestID, "error", err)
	}
}

// List returns an organization's usage records, newest first.
func (r *Recorder) List(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.UsageRecord, error) {
	return r.store.List(ctx, orgID, from, to, limit, offset)
}

// SummarizeByModel aggregates an organization's usage per model in [from, to).
func (r *Recorder) SummarizeByModel(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]ModelSummary, error) {
	return r.store.SummarizeByModel(ctx, orgID, from, to)
}
