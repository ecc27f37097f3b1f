package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditgate/internal/models"
)

// countingAlerter records every alert it receives.
type countingAlerter struct {
	mu     sync.Mutex
	events []*models.AuditEvent
	err    error
}

func (a *countingAlerter) Send(ctx context.Context, event *models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, event)
	return nil
}

func (a *countingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

// brokenEventStore fails every write.
type brokenEventStore struct{}

func (s *brokenEventStore) Create(ctx context.Context, event *models.AuditEvent) error {
	return errors.New("simulated database error")
}

func (s *brokenEventStore) Query(ctx context.Context, filter QueryFilter) ([]*models.AuditEvent, int, error) {
	return nil, 0, nil
}

func TestTrailLogEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("persists with id and timestamp", func(t *testing.T) {
		store := NewInMemoryEventStore()
		trail := NewTrail(store, nil)

		orgID := uuid.New()
		trail.LogEvent(ctx, &models.AuditEvent{
			EventType:      models.AuditCredentialCreated,
			Severity:       models.SeverityMedium,
			OrganizationID: &orgID,
		})

		events, _, err := trail.Query(ctx, QueryFilter{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEqual(t, uuid.Nil, events[0].ID)
		assert.False(t, events[0].CreatedAt.IsZero())
	})

	t.Run("never fails the caller", func(t *testing.T) {
		trail := NewTrail(&brokenEventStore{}, nil)

		// Must not panic when the store is down.
		trail.LogEvent(ctx, &models.AuditEvent{
			EventType: models.AuditAuthFailure,
			Severity:  models.SeverityMedium,
		})
	})

	t.Run("defaults blank severity to low", func(t *testing.T) {
		store := NewInMemoryEventStore()
		trail := NewTrail(store, nil)

		trail.LogEvent(ctx, &models.AuditEvent{EventType: models.AuditAuthSuccess})

		events, _, err := trail.Query(ctx, QueryFilter{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.SeverityLow, events[0].Severity)
	})
}

func TestTrailAlerting(t *testing.T) {
	ctx := context.Background()

	t.Run("critical events dispatch exactly one alert", func(t *testing.T) {
		store := NewInMemoryEventStore()
		alerter := &countingAlerter{}
		trail := NewTrail(store, alerter)

		trail.LogEvent(ctx, &models.AuditEvent{
			EventType: models.AuditSuspiciousActivity,
			Severity:  models.SeverityCritical,
		})

		assert.Equal(t, 1, alerter.count())
	})

	t.Run("non-critical events never alert", func(t *testing.T) {
		store := NewInMemoryEventStore()
		alerter := &countingAlerter{}
		trail := NewTrail(store, alerter)

		for _, severity := range []models.AuditSeverity{
			models.SeverityLow, models.SeverityMedium, models.SeverityHigh,
		} {
			trail.LogEvent(ctx, &models.AuditEvent{
				EventType: models.AuditAuthFailure,
				Severity:  severity,
			})
		}

		assert.Equal(t, 0, alerter.count())
	})

	t.Run("alert failures are swallowed", func(t *testing.T) {
		store := NewInMemoryEventStore()
		alerter := &countingAlerter{err: errors.New("webhook down")}
		trail := NewTrail(store, alerter)

		trail.LogEvent(ctx, &models.AuditEvent{
			EventType: models.AuditSuspiciousActivity,
			Severity:  models.SeverityCritical,
		})

		// The event is still persisted.
		events, _, err := trail.Query(ctx, QueryFilter{})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestTrailQueryFiltering(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	trail := NewTrail(store, nil)

	orgA := uuid.New()
	orgB := uuid.New()
	credA := uuid.New()
	userID := uuid.New()

	trail.AuthSuccess(ctx, orgA, credA, nil)
	trail.AuthFailure(ctx, "hash_mismatch", nil)
	trail.RateLimitExceeded(ctx, orgA, uuid.New(), 60, nil)
	trail.InsufficientCredit(ctx, orgB, 0.15, 0.05, nil)
	trail.LogEvent(ctx, &models.AuditEvent{
		EventType:      models.AuditCredentialRotated,
		Severity:       models.SeverityMedium,
		OrganizationID: &orgA,
		UserID:         &userID,
		EntityID:       &credA,
		EntityType:     "credential",
	})

	t.Run("by organization", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{OrganizationID: &orgA})
		require.NoError(t, err)
		assert.Len(t, events, 3)
		for _, event := range events {
			assert.Equal(t, orgA, *event.OrganizationID)
		}
	})

	t.Run("by event type set", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{
			EventTypes: []models.AuditEventType{models.AuditAuthSuccess, models.AuditAuthFailure},
		})
		require.NoError(t, err)
		assert.Len(t, events, 2)
		for _, event := range events {
			assert.Contains(t, []models.AuditEventType{models.AuditAuthSuccess, models.AuditAuthFailure}, event.EventType)
		}
	})

	t.Run("by severity set", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{
			Severities: []models.AuditSeverity{models.SeverityLow, models.SeverityHigh},
		})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by user", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{UserID: &userID})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.AuditCredentialRotated, events[0].EventType)
	})

	t.Run("by entity", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{EntityID: &credA, EntityType: "credential"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
		for _, event := range events {
			assert.Equal(t, credA, *event.EntityID)
		}
	})

	t.Run("by event type", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{EventTypes: []models.AuditEventType{models.AuditRateLimitExceeded}})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.AuditRateLimitExceeded, events[0].EventType)
	})

	t.Run("by severity", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{Severities: []models.AuditSeverity{models.SeverityHigh}})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.AuditCreditInsufficient, events[0].EventType)
	})

	t.Run("by time window", func(t *testing.T) {
		events, _, err := trail.Query(ctx, QueryFilter{From: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("limit and offset", func(t *testing.T) {
		page, total, err := trail.Query(ctx, QueryFilter{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, page, 3)
		assert.Equal(t, 5, total)

		rest, total, err := trail.Query(ctx, QueryFilter{Offset: 3})
		require.NoError(t, err)
		assert.Len(t, rest, 2)
		assert.Equal(t, 5, total)
	})
}

func TestTrailAuthFailureKeepsReasonInternal(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	trail := NewTrail(store, nil)

	trail.AuthFailure(ctx, "hash_mismatch", models.JSONB{"ip": "10.0.0.1"})

	events, _, err := trail.Query(ctx, QueryFilter{EventTypes: []models.AuditEventType{models.AuditAuthFailure}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "hash_mismatch", events[0].Details["reason"])
	assert.Equal(t, "10.0.0.1", events[0].Metadata["ip"])
}
