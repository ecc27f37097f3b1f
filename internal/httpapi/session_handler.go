package httpapi

import (
	"net/http"

	"creditgate/internal/audit"
	"creditgate/internal/auth"
	"creditgate/internal/config"
	"creditgate/internal/middleware"
	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// SessionHandler exchanges an admin credential for a short-lived session
// token, so management clients run one bcrypt comparison per session
// instead of one per call.
type SessionHandler struct {
	registry *auth.Registry
	trail    *audit.Trail
	cfg      *config.Config
}

// NewSessionHandler creates the admin session handler.
func NewSessionHandler(registry *auth.Registry, trail *audit.Trail, cfg *config.Config) *SessionHandler {
	return &SessionHandler{registry: registry, trail: trail, cfg: cfg}
}

// SessionResponse carries the issued session token.
type SessionResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Create handles POST /admin/auth/session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		return
	}

	ctx := r.Context()
	meta := middleware.RequestMetadata(r)

	secret := middleware.BearerSecret(r)
	if secret == "" {
		h.trail.AuthFailure(ctx, "missing", meta)
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeMissingAPIKey, "missing API key")
		return
	}

	result, err := h.registry.Verify(ctx, secret)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "internal error")
		return
	}
	if !result.Valid {
		h.trail.AuthFailure(ctx, string(result.Reason), meta)
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "invalid API key")
		return
	}

	cred := result.Credential
	if !cred.HasPermission(models.PermissionAdmin) {
		h.trail.UnauthorizedAccess(ctx, cred.OrganizationID, cred.ID, string(models.PermissionAdmin), meta)
		utils.RespondWithError(w, http.StatusForbidden, utils.CodeInsufficientPermissions, "insufficient permissions")
		return
	}

	token, expiresAt, err := auth.GenerateAdminToken(cred.ID, cred.OrganizationID, h.cfg.SessionSecret, h.cfg.SessionTTL)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "failed to issue session token")
		return
	}

	h.trail.AuthSuccess(ctx, cred.OrganizationID, cred.ID, meta)

	_ = utils.RespondWithJSON(w, http.StatusOK, &SessionResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
