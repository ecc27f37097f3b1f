package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// objectPutter is the slice of the S3 client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver exports audit events to S3 as JSON Lines files for long-term
// retention. The database keeps the hot window; S3 keeps everything.
type Archiver struct {
	client   objectPutter
	store    EventStore
	bucket   string
	prefix   string
	nodeName string
	logger   *utils.Logger

	lastArchived time.Time
}

// NewArchiver creates an S3-backed audit archiver.
func NewArchiver(ctx context.Context, store EventStore, bucket, region, prefix, nodeName string) (*Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Archiver{
		client:   s3.NewFromConfig(cfg),
		store:    store,
		bucket:   bucket,
		prefix:   prefix,
		nodeName: nodeName,
		logger:   utils.NewLogger("audit-archiver"),
	}, nil
}

// WriteBatch writes a batch of events to S3 as one JSON Lines object and
// returns the object key.
func (a *Archiver) WriteBatch(ctx context.Context, events []*models.AuditEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	// Format: audit/2026/09/01/gateway-0-20260901-143022-123456789.jsonl
	now := time.Now()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		a.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		a.nodeName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			a.logger.Error("Failed to encode audit event", "error", err)
			continue
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("Archived audit events", "key", key, "count", len(events), "bytes", buf.Len())
	return key, nil
}

// archivePageSize bounds a single store query during archival.
const archivePageSize = 500

// ArchiveSince exports events created in [since, now) and returns the
// object key, or an empty key when there was nothing to export.
func (a *Archiver) ArchiveSince(ctx context.Context, since time.Time) (string, error) {
	return a.archiveRange(ctx, since, time.Now())
}

// archiveRange pages through every event in [from, to) before writing, so
// intervals with more events than one store query returns are still
// archived completely.
func (a *Archiver) archiveRange(ctx context.Context, from, to time.Time) (string, error) {
	var events []*models.AuditEvent
	for offset := 0; ; offset += archivePageSize {
		page, _, err := a.store.Query(ctx, QueryFilter{
			From:   from,
			To:     to,
			Limit:  archivePageSize,
			Offset: offset,
		})
		if err != nil {
			return "", fmt.Errorf("failed to query events for archival: %w", err)
		}
		events = append(events, page...)
		if len(page) < archivePageSize {
			break
		}
	}

	return a.WriteBatch(ctx, events)
}

// Run archives new events on the given interval until the context ends.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.lastArchived = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now()
			if _, err := a.archiveRange(ctx, a.lastArchived, cutoff); err != nil {
				a.logger.Error("Audit archival failed", "error", err)
				continue
			}
			a.lastArchived = cutoff
		}
	}
}
