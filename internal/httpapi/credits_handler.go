package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"creditgate/internal/audit"
	"creditgate/internal/billing"
	"creditgate/internal/config"
	"creditgate/internal/gate"
	"creditgate/internal/middleware"
	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// CreditsHandler serves the credit account endpoints: balance reads for
// tenants, top-ups and adjustments for admin sessions.
type CreditsHandler struct {
	ledger *billing.Ledger
	trail  *audit.Trail
	cfg    *config.Config
}

// NewCreditsHandler creates the credit account handler.
func NewCreditsHandler(ledger *billing.Ledger, trail *audit.Trail, cfg *config.Config) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, trail: trail, cfg: cfg}
}

// TopUpRequest adds purchased credit to an organization's account.
type TopUpRequest struct {
	OrganizationID *uuid.UUID   `json:"organization_id,omitempty"`
	Amount         float64      `json:"amount"`
	Metadata       models.JSONB `json:"metadata,omitempty"`
}

// AdjustRequest applies a manual correction, positive or negative.
type AdjustRequest struct {
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	Amount         float64    `json:"amount"`
	Reason         string     `json:"reason"`
}

// BalanceResponse reports the current account balance.
type BalanceResponse struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Balance        float64   `json:"balance"`
}

// Route dispatches /admin/credits/{balance|topup|adjust|transactions|summary}.
func (h *CreditsHandler) Route(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 3 {
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "not found")
		return
	}

	switch pathParts[2] {
	case "balance":
		h.Balance(w, r)
	case "topup":
		h.TopUp(w, r)
	case "adjust":
		h.Adjust(w, r)
	case "transactions":
		h.Transactions(w, r)
	case "summary":
		h.Summary(w, r)
	default:
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "not found")
	}
}

// Balance handles GET balance reads for both the tenant and admin paths.
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	orgID, ok := h.resolveOrg(w, r, nil)
	if !ok {
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), orgID)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, &BalanceResponse{
		OrganizationID: orgID,
		Balance:        balance,
	})
}

// TopUp handles POST /admin/credits/topup.
func (h *CreditsHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid request payload")
		return
	}
	if req.Amount <= 0 {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "amount must be positive")
		return
	}

	orgID, ok := h.resolveOrg(w, r, req.OrganizationID)
	if !ok {
		return
	}

	txn, err := h.ledger.TopUp(r.Context(), orgID, req.Amount, req.Metadata)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	h.logCreditEvent(r, models.AuditCreditTopUp, models.SeverityLow, orgID, req.Amount, "")

	_ = utils.RespondWithJSON(w, http.StatusCreated, txn)
}

// Adjust handles POST /admin/credits/adjust.
func (h *CreditsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid request payload")
		return
	}
	if req.Amount == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "amount must be non-zero")
		return
	}
	if req.Reason == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "reason is required")
		return
	}

	orgID, ok := h.resolveOrg(w, r, req.OrganizationID)
	if !ok {
		return
	}

	txn, err := h.ledger.Adjust(r.Context(), orgID, req.Amount, req.Reason)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	h.logCreditEvent(r, models.AuditCreditAdjusted, models.SeverityMedium, orgID, req.Amount, req.Reason)

	_ = utils.RespondWithJSON(w, http.StatusCreated, txn)
}

// Transactions handles GET /admin/credits/transactions.
func (h *CreditsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	orgID, ok := h.resolveOrg(w, r, nil)
	if !ok {
		return
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid time range (use RFC3339)")
		return
	}
	limit, offset := parsePagination(r, 50)

	txns, err := h.ledger.ListTransactions(r.Context(), orgID, from, to, limit, offset)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": txns,
		"count": len(txns),
	})
}

// Summary handles GET /admin/credits/summary.
func (h *CreditsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	orgID, ok := h.resolveOrg(w, r, nil)
	if !ok {
		return
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid time range (use RFC3339)")
		return
	}

	summary, err := h.ledger.GetUsageSummary(r.Context(), orgID, from, to)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, summary)
}

// resolveOrg determines the organization a credit operation targets. The
// session's own organization is the default; a different organization may
// be named only by a platform-scoped session.
func (h *CreditsHandler) resolveOrg(w http.ResponseWriter, r *http.Request, requested *uuid.UUID) (uuid.UUID, bool) {
	scope, ok := scopeFrom(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "missing session")
		return uuid.Nil, false
	}

	target := scope.OrganizationID
	if requested == nil {
		if raw := r.URL.Query().Get("organization_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid organization_id")
				return uuid.Nil, false
			}
			requested = &parsed
		}
	}

	if requested != nil && *requested != target {
		if !h.isPlatformScope(scope) {
			utils.RespondWithError(w, http.StatusForbidden, utils.CodeInsufficientPermissions, "cannot act on another organization")
			return uuid.Nil, false
		}
		target = *requested
	}

	return target, true
}

func (h *CreditsHandler) isPlatformScope(scope *gate.Scope) bool {
	return scope.IsAdmin && h.cfg.PlatformOrgID != uuid.Nil && scope.OrganizationID == h.cfg.PlatformOrgID
}

func (h *CreditsHandler) respondLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrAccountNotFound):
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "credit account not found")
	case errors.Is(err, billing.ErrInsufficientBalance):
		utils.RespondWithError(w, http.StatusPaymentRequired, utils.CodeInsufficientBalance, "insufficient credit balance")
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "internal error")
	}
}

func (h *CreditsHandler) logCreditEvent(r *http.Request, eventType models.AuditEventType, severity models.AuditSeverity, orgID uuid.UUID, amount float64, reason string) {
	details := models.JSONB{"amount": amount}
	if reason != "" {
		details["reason"] = reason
	}
	h.trail.LogEvent(r.Context(), &models.AuditEvent{
		EventType:      eventType,
		Severity:       severity,
		OrganizationID: &orgID,
		EntityType:     "credit_account",
		Details:        details,
		Metadata:       middleware.RequestMetadata(r),
	})
}
