package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditgate/internal/queue"
)

func workerTestConfig() *queue.Config {
	config := queue.DefaultConfig("test-usage")
	config.BatchSize = 10
	config.BatchTimeout = 20 * time.Millisecond
	config.MaxRetries = 2
	config.RetryBackoff = 5 * time.Millisecond
	return config
}

func TestWorkerDrainsQueue(t *testing.T) {
	ctx := context.Background()
	config := workerTestConfig()

	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()

	store := NewInMemoryRecordStore()
	worker := NewWorker(q, dlq, store, config)

	orgID := uuid.New()
	for i := 0; i < 25; i++ {
		require.NoError(t, worker.Enqueue(ctx, testRecord(orgID, "gpt-4", true)))
	}

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		return store.Count() == 25
	}, 2*time.Second, 10*time.Millisecond)

	length, err := worker.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestWorkerRetriesThenDLQ(t *testing.T) {
	ctx := context.Background()
	config := workerTestConfig()

	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()

	// Fail the batch insert plus every per-record retry so the record
	// lands in the dead letter queue.
	store := &failingRecordStore{inner: NewInMemoryRecordStore(), maxFails: 1 + config.MaxRetries + 1}
	worker := NewWorker(q, dlq, store, config)

	record := testRecord(uuid.New(), "gpt-4", true)
	require.NoError(t, worker.Enqueue(ctx, record))

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		items, err := dlq.List(ctx, 10)
		return err == nil && len(items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, store.inner.Count())
}

func TestWorkerBatchFallbackToIndividual(t *testing.T) {
	ctx := context.Background()
	config := workerTestConfig()

	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()

	// Only the batch insert fails; the individual fallback succeeds.
	store := &failingRecordStore{inner: NewInMemoryRecordStore(), maxFails: 1}
	worker := NewWorker(q, dlq, store, config)

	orgID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, worker.Enqueue(ctx, testRecord(orgID, "gpt-4", true)))
	}

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		return store.inner.Count() == 3
	}, 2*time.Second, 10*time.Millisecond)

	items, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWorkerRetryDeadLetterEntry(t *testing.T) {
	ctx := context.Background()
	config := workerTestConfig()

	q := queue.NewMemoryQueue(config)
	defer q.Close()
	dlq := queue.NewMemoryDeadLetterQueue()

	store := NewInMemoryRecordStore()
	worker := NewWorker(q, dlq, store, config)

	record := testRecord(uuid.New(), "gpt-4", true)
	require.NoError(t, dlq.Add(ctx, record, assert.AnError))

	entries, err := worker.GetDeadLetterEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, worker.RetryDeadLetterEntry(ctx, entries[0].ID))

	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		return store.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err = worker.GetDeadLetterEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueuedRecorderFallsBackWhenQueueClosed(t *testing.T) {
	ctx := context.Background()
	config := workerTestConfig()

	q := queue.NewMemoryQueue(config)
	store := NewInMemoryRecordStore()
	worker := NewWorker(q, nil, store, config)
	recorder := NewQueuedRecorder(store, worker)

	require.NoError(t, q.Close())

	// Enqueue fails on a closed queue; the recorder writes synchronously.
	recorder.Track(ctx, testRecord(uuid.New(), "gpt-4", true))
	assert.Equal(t, 1, store.Count())
}
