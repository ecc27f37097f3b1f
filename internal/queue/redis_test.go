package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)
	q := NewRedisQueue(client, DefaultConfig("usage-test"))

	orgID := uuid.New()
	record := usageRecord(orgID, "gpt-4")
	require.NoError(t, q.Enqueue(ctx, record))

	batch, err := q.DequeueBatch(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	got := batch[0]
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, orgID, got.OrganizationID)
	assert.Equal(t, record.RequestID, got.RequestID)
	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, 50, got.InputTokens)
	assert.Equal(t, 75, got.OutputTokens)
	assert.InDelta(t, record.Cost, got.Cost, 1e-9)
	assert.True(t, got.Success)
}

func TestRedisQueueBatchDrain(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)
	q := NewRedisQueue(client, DefaultConfig("usage-test"))

	orgID := uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, usageRecord(orgID, "gpt-3.5-turbo")))
	}

	batch, err := q.DequeueBatch(ctx, 3, time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	batch, err = q.DequeueBatch(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestRedisQueueSurvivesReconnect(t *testing.T) {
	// Records queued by one instance are visible to a fresh instance on
	// the same store, unlike the memory backend.
	ctx := context.Background()
	client := setupTestRedis(t)

	record := usageRecord(uuid.New(), "gpt-4o")
	require.NoError(t, NewRedisQueue(client, DefaultConfig("usage-test")).Enqueue(ctx, record))

	q := NewRedisQueue(client, DefaultConfig("usage-test"))
	batch, err := q.DequeueBatch(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, record.RequestID, batch[0].RequestID)
}

func TestRedisDeadLetterQueue(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)
	dlq := NewRedisDeadLetterQueue(client, DefaultConfig("usage-test"))

	record := usageRecord(uuid.New(), "gpt-4")
	require.NoError(t, dlq.Add(ctx, record, errors.New("insert failed")))

	entries, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, record.RequestID, entries[0].Record.RequestID)
	assert.Equal(t, "insert failed", entries[0].Error)

	require.NoError(t, dlq.Remove(ctx, entries[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, entries[0].ID), ErrEntryNotFound)

	entries, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
