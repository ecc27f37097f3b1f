package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// QueryFilter narrows an audit trail query. A nil OrganizationID means
// platform-wide; handlers scope it before the filter reaches the store.
// Empty type and severity slices match everything.
type QueryFilter struct {
	OrganizationID *uuid.UUID
	UserID         *uuid.UUID
	EventTypes     []models.AuditEventType
	Severities     []models.AuditSeverity
	EntityID       *uuid.UUID
	EntityType     string
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
}

// EventStore persists audit events. Rows are append-only; there is no
// update or delete. Implemented by storage.AuditRepository (Postgres)
// and InMemoryEventStore.
type EventStore interface {
	Create(ctx context.Context, event *models.AuditEvent) error
	Query(ctx context.Context, filter QueryFilter) ([]*models.AuditEvent, int, error)
}

// Trail records security and operational events. Recording is best effort
// and never fails the caller: a broken audit store must not take down
// request handling. Critical events additionally dispatch exactly one alert.
type Trail struct {
	store   EventStore
	alerter Alerter
	logger  *utils.Logger
}

// NewTrail creates an audit trail. A nil alerter downgrades critical
// events to log-only.
func NewTrail(store EventStore, alerter Alerter) *Trail {
	return &Trail{
		store:   store,
		alerter: alerter,
		logger:  utils.NewLogger("audit"),
	}
}

// LogEvent persists the event and mirrors it to the process log at a level
// matching its severity. It always returns; persistence and alert failures
// are logged and swallowed.
func (t *Trail) LogEvent(ctx context.Context, event *models.AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}

	keyvals := []interface{}{"event_type", event.EventType, "severity", event.Severity}
	if event.OrganizationID != nil {
		keyvals = append(keyvals, "organization_id", event.OrganizationID)
	}
	if event.EntityID != nil {
		keyvals = append(keyvals, "entity_id", event.EntityID)
	}

	switch event.Severity {
	case models.SeverityCritical:
		t.logger.Error("Audit event", keyvals...)
	case models.SeverityHigh:
		t.logger.Warn("Audit event", keyvals...)
	case models.SeverityMedium:
		t.logger.Info("Audit event", keyvals...)
	default:
		t.logger.Debug("Audit event", keyvals...)
	}

	if err := t.store.Create(ctx, event); err != nil {
		t.logger.Error("Failed to persist audit event", "event_type", event.EventType, "error", err)
	}

	if event.Severity == models.SeverityCritical && t.alerter != nil {
		if err := t.alerter.Send(ctx, event); err != nil {
			t.logger.Error("Failed to dispatch alert", "event_type", event.EventType, "error", err)
		}
	}
}

// Query returns one page of matching events, newest first, along with the
// total number of matches ignoring pagination.
func (t *Trail) Query(ctx context.Context, filter QueryFilter) ([]*models.AuditEvent, int, error) {
	return t.store.Query(ctx, filter)
}

// AuthSuccess records a successful credential verification.
func (t *Trail) AuthSuccess(ctx context.Context, orgID, credentialID uuid.UUID, metadata models.JSONB) {
	t.LogEvent(ctx, &models.AuditEvent{
		EventType:      models.AuditAuthSuccess,
		Severity:       models.SeverityLow,
		OrganizationID: &orgID,
		EntityID:       &credentialID,
		EntityType:     "credential",
		Metadata:       metadata,
	})
}

// AuthFailure records a failed credential verification. The reason stays
// in the trail; callers surface only a generic invalid-credential error.
func (t *Trail) AuthFailure(ctx context.Context, reason string, metadata models.JSONB) {
	t.LogEvent(ctx, &models.AuditEvent{
		EventType: models.AuditAuthFailure,
		Severity:  models.SeverityMedium,
		Details:   models.JSONB{"reason": reason},
		Metadata:  metadata,
	})
}

// RateLimitExceeded records a throttled request.
func (t *Trail) RateLimitExceeded(ctx context.Context, orgID, credentialID uuid.UUID, limit int, metadata models.JSONB) {
	t.LogEvent(ctx, &models.AuditEvent{
		EventType:      models.AuditRateLimitExceeded,
		Severity:       models.SeverityMedium,
		OrganizationID: &orgID,
		EntityID:       &credentialID,
		EntityType:     "credential",
		Details:        models.JSONB{"limit_per_minute": limit},
		Metadata:       metadata,
	})
}

// InsufficientCredit records a request rejected for lack of balance.
func (t *Trail) InsufficientCredit(ctx context.Context, orgID uuid.UUID, required, balance float64, metadata models.JSONB) {
	t.LogEvent(ctx, &models.AuditEvent{
		EventType:      models.AuditCreditInsufficient,
		Severity:       models.SeverityHigh,
		OrganizationID: &orgID,
		Details:        models.JSONB{"required": required, "balance": balance},
		Metadata:       metadata,
	})
}

// UnauthorizedAccess records a permission denial.
func (t *Trail) UnauthorizedAccess(ctx context.Context, orgID, credentialID uuid.UUID, required string, metadata models.JSONB) {
	t.LogEvent(ctx, &models.AuditEvent{
		EventType:      models.AuditUnauthorizedAccess,
		Severity:       models.SeverityHigh,
		OrganizationID: &orgID,
		EntityID:       &credentialID,
		EntityType:     "credential",
		Details:        models.JSONB{"required_permission": required},
		Metadata:       metadata,
	})
}
