package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/models"
	"creditgate/internal/usage"
)

// UsageRepository implements usage.RecordStore on Postgres.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{
		db: db,
	}
}

const insertUsageQuery = `
	INSERT INTO usage_records (
		id, organization_id, credential_id, agent_id, request_id, service,
		provider, model, input_tokens, output_tokens, cost, duration_ms,
		success, error_message, metadata
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING created_at
`

// Create persists one usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	err := r.db.conn.QueryRowContext(
		ctx, insertUsageQuery,
		record.ID, record.OrganizationID, record.CredentialID, record.AgentID,
		record.RequestID, record.Service, record.Provider, record.Model,
		record.InputTokens, record.OutputTokens, record.Cost, record.DurationMS,
		record.Success, record.ErrorMessage, record.Metadata,
	).Scan(&record.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}

// CreateBatch inserts records in a single transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}

		err := tx.QueryRowContext(
			ctx, insertUsageQuery,
			record.ID, record.OrganizationID, record.CredentialID, record.AgentID,
			record.RequestID, record.Service, record.Provider, record.Model,
			record.InputTokens, record.OutputTokens, record.Cost, record.DurationMS,
			record.Success, record.ErrorMessage, record.Metadata,
		).Scan(&record.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert usage record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage batch: %w", err)
	}

	return nil
}

// List retrieves an organization's usage records, newest first
func (r *UsageRepository) List(ctx context.Context, orgID uuid.UUID, from, to time.Time, limit, offset int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}

	var records []*models.UsageRecord
	query := `
		SELECT id, organization_id, credential_id, agent_id, request_id, service,
		       provider, model, input_tokens, output_tokens, cost, duration_ms,
		       success, error_message, metadata, created_at
		FROM usage_records
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	err := r.db.conn.SelectContext(ctx, &records, query, orgID, from, to, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return records, nil
}

// SummarizeByModel aggregates an organization's usage per model
func (r *UsageRepository) SummarizeByModel(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]usage.ModelSummary, error) {
	if to.IsZero() {
		to = time.Now().Add(24 * time.Hour)
	}

	var summaries []usage.ModelSummary
	query := `
		SELECT model,
		       COUNT(*) AS operation_count,
		       COALESCE(SUM(input_tokens), 0) AS input_tokens,
		       COALESCE(SUM(output_tokens), 0) AS output_tokens,
		       COALESCE(SUM(cost), 0) AS total_cost
		FROM usage_records
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY model
		ORDER BY model
	`

	err := r.db.conn.SelectContext(ctx, &summaries, query, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	return summaries, nil
}
