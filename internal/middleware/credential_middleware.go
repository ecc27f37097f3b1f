package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"creditgate/internal/audit"
	"creditgate/internal/auth"
	"creditgate/internal/gate"
	"creditgate/internal/models"
	"creditgate/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// CredentialKey is the context key for the authenticated credential
	CredentialKey ContextKey = "credential"
)

// BearerSecret extracts the presented secret from the Authorization header.
func BearerSecret(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// RequestMetadata collects the request context the audit trail records.
func RequestMetadata(r *http.Request) models.JSONB {
	meta := models.JSONB{}
	if ip := clientIP(r); ip != "" {
		meta["ip"] = ip
	}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	if rid := r.Header.Get("X-Request-ID"); rid != "" {
		meta["request_id"] = rid
	}
	return meta
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		host = host[:idx]
	}
	return host
}

// CredentialMiddleware authenticates the bearer credential, checks the
// required capability, and establishes the request scope in the context.
// Every verification failure collapses to the same invalid-key signal.
func CredentialMiddleware(registry *auth.Registry, trail *audit.Trail, required models.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			meta := RequestMetadata(r)

			secret := BearerSecret(r)
			if secret == "" {
				trail.AuthFailure(ctx, "missing", meta)
				utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeMissingAPIKey, "missing API key")
				return
			}

			result, err := registry.Verify(ctx, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "internal error")
				return
			}
			if !result.Valid {
				trail.AuthFailure(ctx, string(result.Reason), meta)
				utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "invalid API key")
				return
			}
			cred := result.Credential

			if !cred.HasPermission(required) {
				trail.UnauthorizedAccess(ctx, cred.OrganizationID, cred.ID, string(required), meta)
				utils.RespondWithError(w, http.StatusForbidden, utils.CodeInsufficientPermissions, "insufficient permissions")
				return
			}

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			scope := &gate.Scope{
				OrganizationID: cred.OrganizationID,
				CredentialID:   cred.ID,
				ActorID:        cred.UserID,
				IsAdmin:        cred.IsAdmin(),
				RequestID:      requestID,
			}
			ctx = gate.WithScope(ctx, scope)
			ctx = context.WithValue(ctx, CredentialKey, cred)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCredential retrieves the authenticated credential from the request context
func GetCredential(ctx context.Context) (*models.Credential, bool) {
	cred, ok := ctx.Value(CredentialKey).(*models.Credential)
	return cred, ok
}
