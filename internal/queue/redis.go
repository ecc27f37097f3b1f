package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"creditgate/internal/models"
)

// RedisQueue carries usage records over a Redis list, so queued records
// survive restarts and can be drained by workers on any node. The client
// is injected and shared with the rest of the service.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a Redis-backed usage record queue.
func NewRedisQueue(client *redis.Client, config *Config) *RedisQueue {
	if config == nil {
		config = DefaultConfig("usage")
	}

	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("usage:queue:%s", config.Name),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue usage record: %w", err)
	}

	return nil
}

func (q *RedisQueue) DequeueBatch(ctx context.Context, maxRecords int, wait time.Duration) ([]*models.UsageRecord, error) {
	// Block for the first record, then drain without blocking.
	result, err := q.client.BLPop(ctx, wait, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue usage record: %w", err)
	}

	// result[0] is the list key, result[1] the payload.
	batch, err := appendRecord(nil, []byte(result[1]))
	if err != nil {
		return nil, err
	}

	for len(batch) < maxRecords {
		raw, err := q.client.LPop(ctx, q.key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return batch, nil
		}
		batch, err = appendRecord(batch, []byte(raw))
		if err != nil {
			return batch, err
		}
	}

	return batch, nil
}

func appendRecord(batch []*models.UsageRecord, data []byte) ([]*models.UsageRecord, error) {
	var record models.UsageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return batch, fmt.Errorf("failed to unmarshal usage record: %w", err)
	}
	return append(batch, &record), nil
}

func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close is a no-op: the shared client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}

// RedisDeadLetterQueue stores failed records in a Redis hash keyed by
// entry id.
type RedisDeadLetterQueue struct {
	client *redis.Client
	key    string
}

// NewRedisDeadLetterQueue creates a Redis-backed dead letter queue.
func NewRedisDeadLetterQueue(client *redis.Client, config *Config) *RedisDeadLetterQueue {
	if config == nil {
		config = DefaultConfig("usage")
	}

	return &RedisDeadLetterQueue{
		client: client,
		key:    fmt.Sprintf("usage:dlq:%s", config.Name),
	}
}

func (q *RedisDeadLetterQueue) Add(ctx context.Context, record *models.UsageRecord, cause error) error {
	entry := DeadLetterEntry{
		ID:       uuid.NewString(),
		Record:   record,
		Error:    cause.Error(),
		FailedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}

	if err := q.client.HSet(ctx, q.key, entry.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add dead letter entry: %w", err)
	}

	return nil
}

func (q *RedisDeadLetterQueue) List(ctx context.Context, maxEntries int) ([]DeadLetterEntry, error) {
	results, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}

	entries := make([]DeadLetterEntry, 0, len(results))
	for _, data := range results {
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			// Skip malformed entries rather than failing the listing.
			continue
		}
		entries = append(entries, entry)

		if maxEntries > 0 && len(entries) >= maxEntries {
			break
		}
	}

	return entries, nil
}

func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	removed, err := q.client.HDel(ctx, q.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove dead letter entry: %w", err)
	}
	if removed == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Close is a no-op: the shared client is owned by the caller.
func (q *RedisDeadLetterQueue) Close() error {
	return nil
}
