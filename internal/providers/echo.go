package providers

import (
	"context"
	"encoding/json"

	"creditgate/internal/gate"
)

// Echo is a local stand-in handler used when no upstream is configured.
// It returns the request payload as the output and estimates token counts
// from the payload size, so the billing path stays fully exercised in
// development deployments.
type Echo struct{}

// NewEcho creates the local echo handler.
func NewEcho() *Echo {
	return &Echo{}
}

// Execute echoes the payload back with size-derived token counts.
func (e *Echo) Execute(ctx context.Context, req *gate.Request) (*gate.Response, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, err
	}

	// Rough 4 bytes per token estimate.
	inputTokens := len(body) / 4
	if inputTokens == 0 {
		inputTokens = 1
	}

	return &gate.Response{
		InputTokens:  inputTokens,
		OutputTokens: inputTokens,
		Output:       req.Payload,
	}, nil
}
