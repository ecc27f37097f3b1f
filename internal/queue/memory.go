package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
)

// MemoryQueue buffers usage records in a channel. Records do not survive a
// restart; deployments that need durability use RedisQueue instead.
type MemoryQueue struct {
	records chan *models.UsageRecord
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryQueue creates an in-process usage record queue. The buffer holds
// ten batches so short store outages do not block the request path.
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("usage")
	}

	return &MemoryQueue{
		records: make(chan *models.UsageRecord, config.BatchSize*10),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.records <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) DequeueBatch(ctx context.Context, maxRecords int, wait time.Duration) ([]*models.UsageRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var batch []*models.UsageRecord

	select {
	case record := <-q.records:
		batch = append(batch, record)
	case <-time.After(wait):
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Drain whatever is immediately available up to the batch size.
	for len(batch) < maxRecords {
		select {
		case record := <-q.records:
			batch = append(batch, record)
		default:
			return batch, nil
		}
	}

	return batch, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	return len(q.records), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.records)
	return nil
}

// MemoryDeadLetterQueue keeps failed records in a slice.
type MemoryDeadLetterQueue struct {
	entries []DeadLetterEntry
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryDeadLetterQueue creates an in-process dead letter queue.
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{}
}

func (q *MemoryDeadLetterQueue) Add(ctx context.Context, record *models.UsageRecord, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.entries = append(q.entries, DeadLetterEntry{
		ID:       uuid.NewString(),
		Record:   record,
		Error:    cause.Error(),
		FailedAt: time.Now(),
	})
	return nil
}

func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxEntries int) ([]DeadLetterEntry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxEntries <= 0 || maxEntries > len(q.entries) {
		maxEntries = len(q.entries)
	}

	result := make([]DeadLetterEntry, maxEntries)
	copy(result, q.entries[:maxEntries])
	return result, nil
}

func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, entry := range q.entries {
		if entry.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}

	return ErrEntryNotFound
}

func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.entries = nil
	return nil
}
