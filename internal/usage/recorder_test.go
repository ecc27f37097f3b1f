package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditgate/internal/models"
)

// failingRecordStore fails the first maxFails writes, then delegates.
type failingRecordStore struct {
	mu       sync.Mutex
	inner    *InMemoryRecordStore
	fails    int
	maxFails int
}

func (s *failingRecordStore) Create(ctx context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	if s.fails < s.maxFails {
		s.fails++
		s.mu.Unlock()
		return errors.New("simulated database error")
	}
	s.mu.Unlock()
	return s.inner.Create(ctx, record)
}

func (s *failingRecordStore) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	s.mu.Lock()
	if s.fails < s.maxFails {
		s.fails++
		s.mu.Unlock()
		return errors.New("simulated database error")
	}
	s.mu.Unlock()
	return s.inner.CreateBatch(ctx, records)
}

func (s *failingRecordStore) List(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.UsageRecord, error) {
	return s.inner.List(ctx, orgID, from, to, limit, offset)
}

func (s *failingRecordStore) SummarizeByModel(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]ModelSummary, error) {
	return s.inner.SummarizeByModel(ctx, orgID, from, to)
}

func testRecord(orgID uuid.UUID, model string, success bool) *models.UsageRecord {
	return &models.UsageRecord{
		OrganizationID: orgID,
		RequestID:      uuid.NewString(),
		Service:        "llm",
		Provider:       "openai",
		Model:          model,
		InputTokens:    100,
		OutputTokens:   50,
		Cost:           0.15,
		DurationMS:     250,
		Success:        success,
	}
}

func TestRecorderTrack(t *testing.T) {
	ctx := context.Background()

	t.Run("persists every attempt", func(t *testing.T) {
		orgID := uuid.New()
		store := NewInMemoryRecordStore()
		recorder := NewRecorder(store)

		recorder.Track(ctx, testRecord(orgID, "gpt-4", true))

		failed := testRecord(orgID, "gpt-4", false)
		failed.Cost = 0
		failed.ErrorMessage = "provider timeout"
		recorder.Track(ctx, failed)

		records, err := recorder.List(ctx, orgID, time.Time{}, time.Time{}, 0, 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
	})

	t.Run("swallows store errors", func(t *testing.T) {
		store := &failingRecordStore{inner: NewInMemoryRecordStore(), maxFails: 1}
		recorder := NewRecorder(store)

		// Must not panic or surface the error.
		recorder.Track(ctx, testRecord(uuid.New(), "gpt-4", true))
		assert.Equal(t, 0, store.inner.Count())
	})

	t.Run("assigns id and timestamp", func(t *testing.T) {
		orgID := uuid.New()
		store := NewInMemoryRecordStore()
		recorder := NewRecorder(store)

		record := testRecord(orgID, "gpt-4", true)
		recorder.Track(ctx, record)

		records, err := recorder.List(ctx, orgID, time.Time{}, time.Time{}, 0, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.NotEqual(t, uuid.Nil, records[0].ID)
		assert.False(t, records[0].CreatedAt.IsZero())
	})
}

func TestRecorderSummarizeByModel(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	store := NewInMemoryRecordStore()
	recorder := NewRecorder(store)

	for i := 0; i < 3; i++ {
		recorder.Track(ctx, testRecord(orgID, "gpt-4", true))
	}
	cheap := testRecord(orgID, "gpt-3.5-turbo", true)
	cheap.Cost = 0.0003
	recorder.Track(ctx, cheap)

	// Another organization's usage must not leak in.
	recorder.Track(ctx, testRecord(uuid.New(), "gpt-4", true))

	summaries, err := recorder.SummarizeByModel(ctx, orgID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "gpt-3.5-turbo", summaries[0].Model)
	assert.Equal(t, int64(1), summaries[0].OperationCount)

	assert.Equal(t, "gpt-4", summaries[1].Model)
	assert.Equal(t, int64(3), summaries[1].OperationCount)
	assert.InDelta(t, 0.45, summaries[1].TotalCost, 1e-4)
}

func TestRecorderListPagination(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	store := NewInMemoryRecordStore()
	recorder := NewRecorder(store)

	for i := 0; i < 5; i++ {
		record := testRecord(orgID, "gpt-4", true)
		record.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		recorder.Track(ctx, record)
	}

	page, err := recorder.List(ctx, orgID, time.Time{}, time.Time{}, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := recorder.List(ctx, orgID, time.Time{}, time.Time{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, rest, 3)

	// Newest first.
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))
}

func TestRecorderConcurrentTrack(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	store := NewInMemoryRecordStore()
	recorder := NewRecorder(store)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := testRecord(orgID, "gpt-4", true)
			record.RequestID = fmt.Sprintf("req-%d", i)
			recorder.Track(ctx, record)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers, store.Count())
}
