package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"creditgate/internal/gate"
)

const defaultTimeout = 60 * time.Second

// Upstream proxies metered requests to an OpenAI-compatible completion
// endpoint and reports the token usage the response carries. It implements
// gate.Handler, so the pipeline meters whatever the upstream actually
// consumed.
type Upstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUpstream creates a client for an OpenAI-compatible API.
func NewUpstream(baseURL, apiKey string, timeout time.Duration) (*Upstream, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Upstream{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}, nil
}

// Execute sends the request payload to the upstream chat completions
// endpoint and extracts token usage from the response body.
func (u *Upstream) Execute(ctx context.Context, req *gate.Request) (*gate.Response, error) {
	payload, ok := req.Payload.(map[string]interface{})
	if !ok || payload == nil {
		payload = map[string]interface{}{}
	}
	if payload["model"] == nil {
		payload["model"] = req.Model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := u.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}

	usage := extractUsage(respBody)

	var output interface{}
	if err := json.Unmarshal(respBody, &output); err != nil {
		output = string(respBody)
	}

	return &gate.Response{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Output:       output,
	}, nil
}

// Close cleans up idle connections.
func (u *Upstream) Close() {
	u.client.CloseIdleConnections()
}

type usageInfo struct {
	InputTokens  int
	OutputTokens int
}

// extractUsage pulls token counts from an OpenAI-style usage block.
func extractUsage(body []byte) usageInfo {
	var parsed struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return usageInfo{}
	}

	return usageInfo{
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
}
