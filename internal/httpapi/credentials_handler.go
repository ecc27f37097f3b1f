package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"creditgate/internal/audit"
	"creditgate/internal/auth"
	"creditgate/internal/gate"
	"creditgate/internal/middleware"
	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// CredentialsHandler manages credential lifecycle endpoints for admin
// sessions. Every mutation lands in the audit trail.
type CredentialsHandler struct {
	registry *auth.Registry
	trail    *audit.Trail
}

// NewCredentialsHandler creates the credential management handler.
func NewCredentialsHandler(registry *auth.Registry, trail *audit.Trail) *CredentialsHandler {
	return &CredentialsHandler{registry: registry, trail: trail}
}

// CreateCredentialRequest is the request to issue a new credential.
type CreateCredentialRequest struct {
	Name               string     `json:"name"`
	UserID             *uuid.UUID `json:"user_id,omitempty"`
	Permissions        []string   `json:"permissions"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	ExpiresAt          *string    `json:"expires_at,omitempty"` // RFC3339 format
}

// UpdateCredentialRequest carries the mutable fields. Absent fields stay
// unchanged.
type UpdateCredentialRequest struct {
	Name               *string  `json:"name,omitempty"`
	Permissions        []string `json:"permissions,omitempty"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute,omitempty"`
	Active             *bool    `json:"active,omitempty"`
	ExpiresAt          *string  `json:"expires_at,omitempty"` // RFC3339, empty string clears
}

// CredentialCreatedResponse wraps the stored credential with the plaintext
// secret. This is the only time the secret is returned.
type CredentialCreatedResponse struct {
	Credential *models.Credential `json:"credential"`
	Secret     string             `json:"secret"`
}

// Route dispatches /admin/credentials and /admin/credentials/{id}[/regenerate].
func (h *CredentialsHandler) Route(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	// pathParts: ["admin", "credentials", {id}, ["regenerate"]]
	switch {
	case len(pathParts) == 2:
		switch r.Method {
		case http.MethodPost:
			h.create(w, r)
		case http.MethodGet:
			h.list(w, r)
		default:
			utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		}
	case len(pathParts) == 3:
		id, err := uuid.Parse(pathParts[2])
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid credential ID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodPut:
			h.update(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeValidationError, "method not allowed")
		}
	case len(pathParts) == 4 && pathParts[3] == "regenerate" && r.Method == http.MethodPost:
		id, err := uuid.Parse(pathParts[2])
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid credential ID")
			return
		}
		h.regenerate(w, r, id)
	default:
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "not found")
	}
}

func (h *CredentialsHandler) create(w http.ResponseWriter, r *http.Request) {
	scope, actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid request payload")
		return
	}
	if req.Name == "" {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "name is required")
		return
	}

	expiresAt, err := parseExpiry(req.ExpiresAt)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid expires_at format (use RFC3339)")
		return
	}

	perms := make([]models.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perms = append(perms, models.Permission(p))
	}

	cred, secret, err := h.registry.Create(r.Context(), scope.OrganizationID, auth.CreateParams{
		Name:               req.Name,
		UserID:             req.UserID,
		Permissions:        perms,
		RateLimitPerMinute: req.RateLimitPerMinute,
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPermission) {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, err.Error())
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "failed to create credential")
		return
	}

	h.logLifecycle(r, models.AuditCredentialCreated, cred, actor)

	_ = utils.RespondWithJSON(w, http.StatusCreated, &CredentialCreatedResponse{
		Credential: cred,
		Secret:     secret,
	})
}

func (h *CredentialsHandler) list(w http.ResponseWriter, r *http.Request) {
	scope, _, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r, 20)
	creds, err := h.registry.List(r.Context(), scope.OrganizationID, limit, offset)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "failed to list credentials")
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": creds,
		"count": len(creds),
	})
}

func (h *CredentialsHandler) get(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	scope, _, ok := h.actor(w, r)
	if !ok {
		return
	}

	cred, err := h.registry.Get(r.Context(), id, scope.OrganizationID)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, cred)
}

func (h *CredentialsHandler) update(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	scope, actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid request payload")
		return
	}

	params := auth.UpdateParams{
		Name:               req.Name,
		RateLimitPerMinute: req.RateLimitPerMinute,
		Active:             req.Active,
	}
	if req.Permissions != nil {
		perms := make([]models.Permission, 0, len(req.Permissions))
		for _, p := range req.Permissions {
			perms = append(perms, models.Permission(p))
		}
		params.Permissions = perms
	}
	if req.ExpiresAt != nil {
		if *req.ExpiresAt == "" {
			params.ClearExpiresAt = true
		} else {
			expiresAt, err := parseExpiry(req.ExpiresAt)
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, "invalid expires_at format (use RFC3339)")
				return
			}
			params.ExpiresAt = expiresAt
		}
	}

	cred, err := h.registry.Update(r.Context(), actor, id, scope.OrganizationID, params)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidPermission) {
			utils.RespondWithError(w, http.StatusBadRequest, utils.CodeValidationError, err.Error())
			return
		}
		h.respondLookupError(w, err)
		return
	}

	h.logLifecycle(r, models.AuditCredentialUpdated, cred, actor)

	_ = utils.RespondWithJSON(w, http.StatusOK, cred)
}

func (h *CredentialsHandler) delete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	scope, actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	cred, err := h.registry.Get(r.Context(), id, scope.OrganizationID)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}

	if err := h.registry.Delete(r.Context(), actor, id, scope.OrganizationID); err != nil {
		h.respondLookupError(w, err)
		return
	}

	h.logLifecycle(r, models.AuditCredentialDeleted, cred, actor)

	w.WriteHeader(http.StatusNoContent)
}

func (h *CredentialsHandler) regenerate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	scope, actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	cred, secret, oldPrefix, err := h.registry.Regenerate(r.Context(), actor, id, scope.OrganizationID)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}

	event := &models.AuditEvent{
		EventType:      models.AuditCredentialRotated,
		Severity:       models.SeverityMedium,
		OrganizationID: &cred.OrganizationID,
		EntityID:       &cred.ID,
		EntityType:     "credential",
		Details:        models.JSONB{"old_prefix": oldPrefix, "new_prefix": cred.Prefix},
		Metadata:       middleware.RequestMetadata(r),
	}
	if actor != nil {
		event.UserID = actor.UserID
	}
	h.trail.LogEvent(r.Context(), event)

	_ = utils.RespondWithJSON(w, http.StatusOK, &CredentialCreatedResponse{
		Credential: cred,
		Secret:     secret,
	})
}

// actor resolves the session's backing admin credential. Registry-level
// admin checks run against it, not against the session claims alone, so
// a revoked credential loses admin access as soon as its session is used.
func (h *CredentialsHandler) actor(w http.ResponseWriter, r *http.Request) (*gate.Scope, *models.Credential, bool) {
	scope, ok := scopeFrom(r)
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "missing session")
		return nil, nil, false
	}

	cred, err := h.registry.Get(r.Context(), scope.CredentialID, scope.OrganizationID)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "session credential no longer valid")
		return nil, nil, false
	}
	if !cred.Active {
		utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "session credential no longer valid")
		return nil, nil, false
	}

	return scope, cred, true
}

func (h *CredentialsHandler) respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrCredentialNotFound):
		utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "credential not found")
	case errors.Is(err, auth.ErrForbidden):
		utils.RespondWithError(w, http.StatusForbidden, utils.CodeInsufficientPermissions, "insufficient permissions")
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "internal error")
	}
}

func (h *CredentialsHandler) logLifecycle(r *http.Request, eventType models.AuditEventType, cred *models.Credential, actor *models.Credential) {
	event := &models.AuditEvent{
		EventType:      eventType,
		Severity:       models.SeverityMedium,
		OrganizationID: &cred.OrganizationID,
		EntityID:       &cred.ID,
		EntityType:     "credential",
		Details:        models.JSONB{"name": cred.Name},
		Metadata:       middleware.RequestMetadata(r),
	}
	if actor != nil {
		event.UserID = actor.UserID
	}
	h.trail.LogEvent(r.Context(), event)
}

func parseExpiry(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
