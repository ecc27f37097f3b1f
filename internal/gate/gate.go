package gate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/audit"
	"creditgate/internal/auth"
	"creditgate/internal/billing"
	"creditgate/internal/models"
	"creditgate/internal/pricing"
	"creditgate/internal/ratelimit"
	"creditgate/internal/usage"
	"creditgate/internal/utils"
)

// Request describes one inbound metered call.
type Request struct {
	// Secret is the presented bearer credential, empty when the header
	// was missing.
	Secret string

	// Permission is the capability the call requires.
	Permission models.Permission

	Service  string
	Provider string
	Model    string

	// RequestID doubles as the billing idempotency key. Assigned when
	// empty.
	RequestID string

	AgentID *uuid.UUID
	Payload interface{}

	ClientIP  string
	UserAgent string
}

// Response is what a handler returns: the operation output plus the token
// counts the pipeline meters against.
type Response struct {
	InputTokens  int
	OutputTokens int
	Output       interface{}
}

// Handler executes the metered operation itself, typically a proxy call
// to an AI provider. It runs only after authentication, authorization and
// rate limiting all pass.
type Handler interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandlerFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Outcome reports a request that made it through the full pipeline.
type Outcome struct {
	Scope    *Scope
	Response *Response

	Cost             float64
	RemainingBalance float64
	AlreadyBilled    bool

	RateLimit     int
	RateRemaining int
	RateResetAt   time.Time

	DurationMS int64
}

// Gate orchestrates the request pipeline: authenticate, authorize,
// rate-limit, execute, bill, record, audit. Failure at any of the first
// three stages short-circuits before the handler runs.
type Gate struct {
	registry *auth.Registry
	limiter  ratelimit.Limiter
	prices   *pricing.Table
	ledger   *billing.Ledger
	recorder *usage.Recorder
	trail    *audit.Trail
	logger   *utils.Logger
}

// NewGate wires the pipeline.
func NewGate(registry *auth.Registry, limiter ratelimit.Limiter, prices *pricing.Table, ledger *billing.Ledger, recorder *usage.Recorder, trail *audit.Trail) *Gate {
	return &Gate{
		registry: registry,
		limiter:  limiter,
		prices:   prices,
		ledger:   ledger,
		recorder: recorder,
		trail:    trail,
		logger:   utils.NewLogger("gate"),
	}
}

// Process runs one request through the pipeline. A non-nil *Error return
// carries the HTTP status and stable code; the handler's own failure comes
// back wrapped as an internal error after usage is recorded.
func (g *Gate) Process(ctx context.Context, req *Request, handler Handler) (*Outcome, *Error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	meta := g.requestMetadata(req)

	// Authenticate.
	if req.Secret == "" {
		g.trail.AuthFailure(ctx, "missing", meta)
		return nil, missingCredentialError()
	}

	result, err := g.registry.Verify(ctx, req.Secret)
	if err != nil {
		return nil, internalError(err)
	}
	if !result.Valid {
		g.trail.AuthFailure(ctx, string(result.Reason), meta)
		return nil, invalidCredentialError()
	}
	cred := result.Credential

	scope := &Scope{
		OrganizationID: cred.OrganizationID,
		CredentialID:   cred.ID,
		ActorID:        cred.UserID,
		IsAdmin:        cred.IsAdmin(),
		RequestID:      req.RequestID,
	}
	ctx = WithScope(ctx, scope)
	g.trail.AuthSuccess(ctx, cred.OrganizationID, cred.ID, meta)

	// Authorize.
	if !cred.HasPermission(req.Permission) {
		g.trail.UnauthorizedAccess(ctx, cred.OrganizationID, cred.ID, string(req.Permission), meta)
		return nil, permissionError(string(req.Permission))
	}

	// Rate limit.
	rateLimit := cred.RateLimitPerMinute
	allowed, remaining, resetAt, err := g.limiter.Allow(ctx, cred.ID.String(), rateLimit)
	if err != nil {
		// Fail open: a broken counter store should not take down traffic.
		// Zeroing the limit keeps stale counter data out of the
		// response headers for this request.
		g.logger.Error("Rate limit check failed", "credential_id", cred.ID, "error", err)
		allowed, remaining, resetAt, rateLimit = true, 0, time.Time{}, 0
	}
	if !allowed {
		g.trail.RateLimitExceeded(ctx, cred.OrganizationID, cred.ID, cred.RateLimitPerMinute, meta)
		return nil, rateLimitError(cred.RateLimitPerMinute, remaining, resetAt)
	}

	// Pricing must resolve before any billable work happens.
	if _, err := g.prices.Rate(req.Model); err != nil {
		return nil, unknownModelError(req.Model, err)
	}

	// The handler's cost is sunk once it runs, so an already-empty
	// balance rejects here rather than after execution.
	balance, err := g.ledger.GetBalance(ctx, cred.OrganizationID)
	if err != nil && !errors.Is(err, billing.ErrAccountNotFound) {
		return nil, internalError(err)
	}
	if err != nil || balance <= 0 {
		g.trail.InsufficientCredit(ctx, cred.OrganizationID, 0, balance, meta)
		return nil, insufficientBalanceError(err)
	}

	// Execute.
	start := time.Now()
	response, handlerErr := handler.Execute(ctx, req)
	durationMS := time.Since(start).Milliseconds()

	// Metering survives caller cancellation: the work already happened.
	meterCtx := context.WithoutCancel(ctx)

	if handlerErr != nil {
		g.recordUsage(meterCtx, scope, req, response, 0, durationMS, handlerErr)
		return nil, internalError(handlerErr)
	}

	deduction, err := g.ledger.Deduct(meterCtx, cred.OrganizationID, billing.Usage{
		Service:      req.Service,
		Model:        req.Model,
		InputTokens:  response.InputTokens,
		OutputTokens: response.OutputTokens,
		RequestID:    req.RequestID,
		CredentialID: &cred.ID,
		AgentID:      req.AgentID,
	})
	if err != nil {
		g.recordUsage(meterCtx, scope, req, response, 0, durationMS, err)
		if errors.Is(err, billing.ErrInsufficientBalance) {
			// Sunk cost: the operation ran but could not be billed.
			g.trail.InsufficientCredit(meterCtx, cred.OrganizationID, 0, balance, meta)
			return nil, insufficientBalanceError(err)
		}
		return nil, internalError(err)
	}

	g.recordUsage(meterCtx, scope, req, response, deduction.DeductedAmount, durationMS, nil)

	g.trail.LogEvent(meterCtx, &models.AuditEvent{
		EventType:      models.AuditCreditDeducted,
		Severity:       models.SeverityLow,
		OrganizationID: &cred.OrganizationID,
		EntityID:       &cred.ID,
		EntityType:     "credential",
		Details: models.JSONB{
			"amount":     deduction.DeductedAmount,
			"model":      req.Model,
			"request_id": req.RequestID,
		},
		Metadata: meta,
	})
	if deduction.LowBalance {
		g.trail.LogEvent(meterCtx, &models.AuditEvent{
			EventType:      models.AuditLowBalance,
			Severity:       models.SeverityHigh,
			OrganizationID: &cred.OrganizationID,
			Details:        models.JSONB{"balance": deduction.RemainingBalance},
			Metadata:       meta,
		})
	}

	return &Outcome{
		Scope:            scope,
		Response:         response,
		Cost:             deduction.DeductedAmount,
		RemainingBalance: deduction.RemainingBalance,
		AlreadyBilled:    deduction.AlreadyBilled,
		RateLimit:        rateLimit,
		RateRemaining:    remaining,
		RateResetAt:      resetAt,
		DurationMS:       durationMS,
	}, nil
}

// recordUsage writes the per-attempt usage record. Failed attempts carry
// cost 0 and the failure message.
func (g *Gate) recordUsage(ctx context.Context, scope *Scope, req *Request, response *Response, cost float64, durationMS int64, opErr error) {
	record := &models.UsageRecord{
		OrganizationID: scope.OrganizationID,
		CredentialID:   &scope.CredentialID,
		AgentID:        req.AgentID,
		RequestID:      req.RequestID,
		Service:        req.Service,
		Provider:       req.Provider,
		Model:          req.Model,
		Cost:           cost,
		DurationMS:     durationMS,
		Success:        opErr == nil,
	}
	if response != nil {
		record.InputTokens = response.InputTokens
		record.OutputTokens = response.OutputTokens
	}
	if opErr != nil {
		record.ErrorMessage = opErr.Error()
	}
	g.recorder.Track(ctx, record)
}

func (g *Gate) requestMetadata(req *Request) models.JSONB {
	meta := models.JSONB{"request_id": req.RequestID}
	if req.ClientIP != "" {
		meta["ip"] = req.ClientIP
	}
	if req.UserAgent != "" {
		meta["user_agent"] = req.UserAgent
	}
	return meta
}
