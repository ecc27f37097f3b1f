package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"creditgate/internal/gate"
	"creditgate/internal/middleware"
	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// ExecuteHandler serves the metered endpoint. Every request runs the full
// gate pipeline; nothing reaches the operation handler without passing
// authentication, authorization, rate limiting and the balance checks.
type ExecuteHandler struct {
	gate    *gate.Gate
	handler gate.Handler
}

// NewExecuteHandler creates the metered endpoint handler.
func NewExecuteHandler(g *gate.Gate, handler gate.Handler) *ExecuteHandler {
	return &ExecuteHandler{gate: g, handler: handler}
}

// ExecuteRequest is the request body of the metered endpoint.
type ExecuteRequest struct {
	Service  string                 `json:"service"`
	Provider string                 `json:"provider,omitempty"`
	Model    string                 `json:"model"`
	AgentID  *uuid.UUID             `json:"agent_id,omitempty"`
	Payload  map[string]interface{} `json:"payload"`
}

// ExecuteResponse is returned for a request that made it through the
// pipeline and was billed.
type ExecuteResponse struct {
	RequestID        string      `json:"request_id"`
	Output           interface{} `json:"output"`
	InputTokens      int         `json:"input_tokens"`
	OutputTokens     int         `json:"output_tokens"`
	Cost             float64     `json:"cost"`
	RemainingBalance float64     `json:"remaining_balance"`
	AlreadyBilled    bool        `json:"already_billed,omitempty"`
	DurationMS       int64       `json:"duration_ms"`
}

// Execute handles POST /v1/execute.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	var body ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid request payload")
		return
	}
	if body.Model == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "model is required")
		return
	}
	if body.Service == "" {
		body.Service = "generate"
	}

	req := &gate.Request{
		Secret:     middleware.BearerSecret(r),
		Permission: models.PermissionGenerate,
		Service:    body.Service,
		Provider:   body.Provider,
		Model:      body.Model,
		RequestID:  r.Header.Get("X-Request-ID"),
		AgentID:    body.AgentID,
		Payload:    body.Payload,
		ClientIP:   r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		req.ClientIP = fwd
	}

	outcome, gateErr := h.gate.Process(r.Context(), req, h.handler)
	if gateErr != nil {
		if gateErr.Code == utils.CodeRateLimitExceeded {
			writeRateLimitHeaders(w, gateErr.Limit, gateErr.Remaining, gateErr.ResetAt.Unix())
		}
		utils.RespondWithError(w, gateErr.Status, gateErr.Code, gateErr.Message)
		return
	}

	writeRateLimitHeaders(w, outcome.RateLimit, outcome.RateRemaining, outcome.RateResetAt.Unix())

	_ = utils.RespondWithJSON(w, http.StatusOK, &ExecuteResponse{
		RequestID:        outcome.Scope.RequestID,
		Output:           outcome.Response.Output,
		InputTokens:      outcome.Response.InputTokens,
		OutputTokens:     outcome.Response.OutputTokens,
		Cost:             outcome.Cost,
		RemainingBalance: outcome.RemainingBalance,
		AlreadyBilled:    outcome.AlreadyBilled,
		DurationMS:       outcome.DurationMS,
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetUnix int64) {
	if limit <= 0 {
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetUnix, 10))
}
