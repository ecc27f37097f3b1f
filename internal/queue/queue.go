package queue

import (
	"context"
	"time"

	"creditgate/internal/models"
)

// Package queue buffers usage records between the request path and the
// sink worker, so a slow usage store never blocks metering.
//
// Two backends:
//
//  1. Memory (channel-based): no persistence, records are lost on restart.
//     For standalone and development deployments.
//  2. Redis (list-based): records survive restarts and can be drained by
//     workers on other nodes. The client is shared with the rate limiter.
//
// Records that exhaust their retries land in a dead letter queue keyed by
// entry id, from which an operator can re-enqueue them.

// Queue carries usage records to the sink worker.
type Queue interface {
	// Enqueue adds a record to the queue.
	Enqueue(ctx context.Context, record *models.UsageRecord) error

	// DequeueBatch returns up to maxRecords records. It waits up to the
	// given duration for the first record, then drains whatever else is
	// immediately available. An empty slice means the wait timed out.
	DequeueBatch(ctx context.Context, maxRecords int, wait time.Duration) ([]*models.UsageRecord, error)

	// Length returns the number of records currently queued.
	Length(ctx context.Context) (int, error)

	// Close shuts the queue down. Further calls return ErrQueueClosed.
	Close() error
}

// DeadLetterQueue holds records whose persistence failed after every retry.
type DeadLetterQueue interface {
	// Add stores a failed record together with its final error.
	Add(ctx context.Context, record *models.UsageRecord, cause error) error

	// List returns up to maxEntries entries; maxEntries <= 0 means all.
	List(ctx context.Context, maxEntries int) ([]DeadLetterEntry, error)

	// Remove deletes an entry by id.
	Remove(ctx context.Context, id string) error

	// Close shuts the dead letter queue down.
	Close() error
}

// DeadLetterEntry is one failed usage record awaiting operator attention.
type DeadLetterEntry struct {
	ID       string              `json:"id"`
	Record   *models.UsageRecord `json:"record"`
	Error    string              `json:"error"`
	FailedAt time.Time           `json:"failed_at"`
}

// Config tunes the usage sink's batching and retry behavior.
type Config struct {
	// BatchSize is the maximum number of records per batch insert.
	BatchSize int

	// BatchTimeout is how long the worker waits before flushing a
	// partial batch.
	BatchTimeout time.Duration

	// MaxRetries is the number of per-record retry attempts after a
	// failed batch insert.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration

	// Name distinguishes queues sharing a Redis database.
	Name string
}

// DefaultConfig returns the default usage sink configuration.
func DefaultConfig(name string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		Name:         name,
	}
}
