package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// fakePutter captures uploaded objects instead of talking to S3.
type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: make(map[string]string)}
}

func (p *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	scanner := bufio.NewScanner(params.Body)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	p.objects[*params.Key] = sb.String()
	return &s3.PutObjectOutput{}, nil
}

func newTestArchiver(store EventStore, putter objectPutter) *Archiver {
	return &Archiver{
		client:   putter,
		store:    store,
		bucket:   "audit-archive",
		prefix:   "audit/",
		nodeName: "gateway-0",
		logger:   utils.NewLogger("audit-archiver-test"),
	}
}

func TestArchiverWriteBatch(t *testing.T) {
	ctx := context.Background()
	putter := newFakePutter()
	archiver := newTestArchiver(NewInMemoryEventStore(), putter)

	orgID := uuid.New()
	events := []*models.AuditEvent{
		{
			ID:             uuid.New(),
			EventType:      models.AuditAuthSuccess,
			Severity:       models.SeverityLow,
			OrganizationID: &orgID,
			CreatedAt:      time.Now(),
		},
		{
			ID:        uuid.New(),
			EventType: models.AuditAuthFailure,
			Severity:  models.SeverityMedium,
			Details:   models.JSONB{"reason": "not_found"},
			CreatedAt: time.Now(),
		},
	}

	key, err := archiver.WriteBatch(ctx, events)
	require.NoError(t, err)
	require.NotEmpty(t, key)
	assert.True(t, strings.HasPrefix(key, "audit/"))
	assert.True(t, strings.HasSuffix(key, ".jsonl"))
	assert.Contains(t, key, "gateway-0")

	body, ok := putter.objects[key]
	require.True(t, ok)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)

	var first models.AuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, events[0].ID, first.ID)
	assert.Equal(t, models.AuditAuthSuccess, first.EventType)
}

func TestArchiverWriteBatchEmpty(t *testing.T) {
	putter := newFakePutter()
	archiver := newTestArchiver(NewInMemoryEventStore(), putter)

	key, err := archiver.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, putter.objects)
}

func TestArchiverArchiveSince(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	putter := newFakePutter()
	archiver := newTestArchiver(store, putter)

	old := &models.AuditEvent{
		ID:        uuid.New(),
		EventType: models.AuditAuthSuccess,
		Severity:  models.SeverityLow,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	recent := &models.AuditEvent{
		ID:        uuid.New(),
		EventType: models.AuditCredentialRotated,
		Severity:  models.SeverityMedium,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, old))
	require.NoError(t, store.Create(ctx, recent))

	key, err := archiver.ArchiveSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, key)

	body := putter.objects[key]
	assert.Contains(t, body, recent.ID.String())
	assert.NotContains(t, body, old.ID.String())
}

func TestArchiverArchiveSincePagesThroughLargeWindows(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()
	putter := newFakePutter()
	archiver := newTestArchiver(store, putter)

	// More events than one store page, so the export has to paginate.
	total := archivePageSize + 25
	want := make(map[string]bool, total)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < total; i++ {
		event := &models.AuditEvent{
			ID:        uuid.New(),
			EventType: models.AuditAuthSuccess,
			Severity:  models.SeverityLow,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, store.Create(ctx, event))
		want[event.ID.String()] = true
	}

	key, err := archiver.ArchiveSince(ctx, base.Add(-time.Second))
	require.NoError(t, err)
	require.NotEmpty(t, key)

	lines := strings.Split(strings.TrimSpace(putter.objects[key]), "\n")
	require.Len(t, lines, total)

	for _, line := range lines {
		var event models.AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		delete(want, event.ID.String())
	}
	assert.Empty(t, want, "every event in the window is archived exactly once")
}
