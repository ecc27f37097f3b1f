package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"creditgate/internal/audit"
	"creditgate/internal/config"
	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// AuditHandler serves audit event queries. Results are scoped to the
// caller's organization; only platform-scoped sessions may query across
// organizations.
type AuditHandler struct {
	trail *audit.Trail
	cfg   *config.Config
}

// NewAuditHandler creates the audit query handler.
func NewAuditHandler(trail *audit.Trail, cfg *config.Config) *AuditHandler {
	return &AuditHandler{trail: trail, cfg: cfg}
}

// Events handles GET audit event listings.
func (h *AuditHandler) Events(w http.ResponseWriter, r *http.Request) {
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
	limit, offset := parsePagination(r, 100)

	orgID := scope.OrganizationID
	filter := audit.QueryFilter{
		OrganizationID: &orgID,
		EventTypes:     parseEventTypes(r.URL.Query().Get("event_type")),
		Severities:     parseSeverities(r.URL.Query().Get("severity")),
		EntityType:     r.URL.Query().Get("entity_type"),
		From:           from,
		To:             to,
		Limit:          limit,
		Offset:         offset,
	}

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid user_id")
			return
		}
		filter.UserID = &userID
	}
	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		entityID, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid entity_id")
			return
		}
		filter.EntityID = &entityID
	}

	platform := scope.IsAdmin && h.cfg.PlatformOrgID != uuid.Nil && scope.OrganizationID == h.cfg.PlatformOrgID
	if raw := r.URL.Query().Get("organization_id"); raw != "" {
		requested, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid organization_id")
			return
		}
		if requested != scope.OrganizationID && !platform {
			utils.RespondWithError(w, http.StatusForbidden, utils.CodeInsufficientPermissions, "cannot query another organization")
			return
		}
		filter.OrganizationID = &requested
	} else if platform && r.URL.Query().Get("all_organizations") == "true" {
		filter.OrganizationID = nil
	}

	events, total, err := h.trail.Query(r.Context(), filter)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "failed to query audit events")
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
		"count": len(events),
		"total": total,
	})
}

// parseEventTypes splits a comma-separated event_type parameter.
func parseEventTypes(raw string) []models.AuditEventType {
	var types []models.AuditEventType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, models.AuditEventType(part))
		}
	}
	return types
}

// parseSeverities splits a comma-separated severity parameter.
func parseSeverities(raw string) []models.AuditSeverity {
	var severities []models.AuditSeverity
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			severities = append(severities, models.AuditSeverity(part))
		}
	}
	return severities
}
