package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
)

// InMemoryRecordStore keeps usage records in a slice, for standalone
// deployments and tests.
type InMemoryRecordStore struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{}
}

func (s *InMemoryRecordStore) Create(ctx context.Context, record *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createLocked(record)
	return nil
}

func (s *InMemoryRecordStore) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.createLocked(record)
	}
	return nil
}

func (s *InMemoryRecordStore) createLocked(record *models.UsageRecord) {
	cp := *record
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.records = append(s.records, &cp)
}

func (s *InMemoryRecordStore) List(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.UsageRecord
	for _, record := range s.records {
		if record.OrganizationID != orgID {
			continue
		}
		if !from.IsZero() && record.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !record.CreatedAt.Before(to) {
			continue
		}
		cp := *record
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryRecordStore) SummarizeByModel(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]ModelSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byModel := make(map[string]*ModelSummary)
	for _, record := range s.records {
		if record.OrganizationID != orgID {
			continue
		}
		if !from.IsZero() && record.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !record.CreatedAt.Before(to) {
			continue
		}

		summary, ok := byModel[record.Model]
		if !ok {
			summary = &ModelSummary{Model: record.Model}
			byModel[record.Model] = summary
		}
		summary.OperationCount++
		summary.InputTokens += int64(record.InputTokens)
		summary.OutputTokens += int64(record.OutputTokens)
		summary.TotalCost += record.Cost
	}

	out := make([]ModelSummary, 0, len(byModel))
	for _, summary := range byModel {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Model < out[j].Model
	})
	return out, nil
}

// Count returns the number of stored records.
func (s *InMemoryRecordStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
