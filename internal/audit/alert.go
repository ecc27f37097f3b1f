package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// Alerter delivers critical audit events to an out-of-band channel.
type Alerter interface {
	Send(ctx context.Context, event *models.AuditEvent) error
}

// LogAlerter writes alerts to the process log. Used when no webhook is
// configured.
type LogAlerter struct {
	logger *utils.Logger
}

func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: utils.NewLogger("alerts")}
}

func (a *LogAlerter) Send(ctx context.Context, event *models.AuditEvent) error {
	a.logger.Error("ALERT", "event_type", event.EventType, "details", event.Details)
	return nil
}

// WebhookAlerter POSTs critical events as JSON to a configured endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *WebhookAlerter) Send(ctx context.Context, event *models.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
