package httpapi

import (
	"net/http"

	"creditgate/internal/billing"
	"creditgate/internal/usage"
	"creditgate/internal/utils"
)

// UsageHandler serves usage record queries, scoped to the caller's
// organization for both the tenant and admin paths.
type UsageHandler struct {
	recorder *usage.Recorder
	ledger   *billing.Ledger
}

// NewUsageHandler creates the usage query handler.
func NewUsageHandler(recorder *usage.Recorder, ledger *billing.Ledger) *UsageHandler {
	return &UsageHandler{recorder: recorder, ledger: ledger}
}

// Records handles GET usage record listings.
func (h *UsageHandler) Records(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	scope, ok := scopeFrom(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "missing scope")
		return
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid time range (use RFC3339)")
		return
	}
	limit, offset := parsePagination(r, 50)

	records, err := h.recorder.List(r.Context(), scope.OrganizationID, from, to, limit, offset)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "failed to list usage records")
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"count": len(records),
	})
}

// Summary handles GET usage summaries: per-model aggregates plus the
// ledger's total for the same window.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	scope, ok := scopeFrom(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "missing scope")
		return
	}

	from, to, err := parseTimeRange(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid time range (use RFC3339)")
		return
	}

	byModel, err := h.recorder.SummarizeByModel(r.Context(), scope.OrganizationID, from, to)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "failed to summarize usage")
		return
	}

	response := map[string]interface{}{
		"from":     from,
		"to":       to,
		"by_model": byModel,
	}

	// The ledger total is authoritative for billing; the per-model rows
	// come from the async sink and may trail it briefly.
	if total, err := h.ledger.GetUsageSummary(r.Context(), scope.OrganizationID, from, to); err == nil {
		response["total_cost"] = total.TotalCost
		response["operation_count"] = total.OperationCount
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, response)
}
