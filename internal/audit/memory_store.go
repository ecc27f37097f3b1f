package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
)

// InMemoryEventStore keeps audit events in a slice, for standalone
// deployments and tests. Append-only like its Postgres counterpart.
type InMemoryEventStore struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) Create(ctx context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *event
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *InMemoryEventStore) Query(ctx context.Context, filter QueryFilter) ([]*models.AuditEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AuditEvent
	for _, event := range s.events {
		if !matches(event, filter) {
			continue
		}
		cp := *event
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	total := len(out)
	if filter.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func matches(event *models.AuditEvent, filter QueryFilter) bool {
	if filter.OrganizationID != nil {
		if event.OrganizationID == nil || *event.OrganizationID != *filter.OrganizationID {
			return false
		}
	}
	if filter.UserID != nil {
		if event.UserID == nil || *event.UserID != *filter.UserID {
			return false
		}
	}
	if filter.EntityID != nil {
		if event.EntityID == nil || *event.EntityID != *filter.EntityID {
			return false
		}
	}
	if filter.EntityType != "" && event.EntityType != filter.EntityType {
		return false
	}
	if len(filter.EventTypes) > 0 && !containsEventType(filter.EventTypes, event.EventType) {
		return false
	}
	if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, event.Severity) {
		return false
	}
	if !filter.From.IsZero() && event.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !event.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

func containsEventType(types []models.AuditEventType, t models.AuditEventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsSeverity(severities []models.AuditSeverity, s models.AuditSeverity) bool {
	for _, candidate := range severities {
		if candidate == s {
			return true
		}
	}
	return false
}
