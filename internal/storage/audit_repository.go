package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"creditgate/internal/audit"
	"creditgate/internal/models"
)

// AuditRepository implements audit.EventStore on Postgres. The table is
// append-only; the application never updates or deletes rows.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{
		db: db,
	}
}

// Create persists one audit event
func (r *AuditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (
			id, event_type, severity, user_id, organization_id, entity_id,
			entity_type, details, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, query,
		event.ID, event.EventType, event.Severity, event.UserID,
		event.OrganizationID, event.EntityID, event.EntityType,
		event.Details, event.Metadata,
	).Scan(&event.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}

	return nil
}

// Query retrieves one page of matching events, newest first, plus the
// total match count ignoring pagination
func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter) ([]*models.AuditEvent, int, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.OrganizationID != nil {
		addCondition("organization_id = ?", *filter.OrganizationID)
	}
	if filter.UserID != nil {
		addCondition("user_id = ?", *filter.UserID)
	}
	if filter.EntityID != nil {
		addCondition("entity_id = ?", *filter.EntityID)
	}
	if filter.EntityType != "" {
		addCondition("entity_type = ?", filter.EntityType)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		addCondition("event_type = ANY(?)", pq.Array(types))
	}
	if len(filter.Severities) > 0 {
		severities := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			severities[i] = string(s)
		}
		addCondition("severity = ANY(?)", pq.Array(severities))
	}
	if !filter.From.IsZero() {
		addCondition("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		addCondition("created_at < ?", filter.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events" + where
	if err := r.db.conn.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := `
		SELECT id, event_type, severity, user_id, organization_id, entity_id,
		       entity_type, details, metadata, created_at
		FROM audit_events
	` + where + " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	var events []*models.AuditEvent
	err := r.db.conn.SelectContext(ctx, &events, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}

	return events, total, nil
}
