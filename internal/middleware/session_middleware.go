package middleware

import (
	"context"
	"net/http"

	"creditgate/internal/auth"
	"creditgate/internal/gate"
	"creditgate/internal/utils"
)

const (
	// SessionClaimsKey is the context key for validated admin session claims
	SessionClaimsKey ContextKey = "sessionClaims"
)

// SessionMiddleware validates a short-lived admin session token issued by
// the session endpoint. The token carries the admin credential identity so
// the bcrypt comparison runs once per session instead of once per call.
func SessionMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerSecret(r)
			if token == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeMissingAPIKey, "missing session token")
				return
			}

			claims, err := auth.ValidateAdminToken(token, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeInvalidAPIKey, "invalid or expired session token")
				return
			}

			scope := &gate.Scope{
				OrganizationID: claims.OrganizationID,
				CredentialID:   claims.CredentialID,
				IsAdmin:        true,
			}
			ctx := gate.WithScope(r.Context(), scope)
			ctx = context.WithValue(ctx, SessionClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionClaims retrieves the admin session claims from the request context
func GetSessionClaims(ctx context.Context) (*auth.AdminClaims, bool) {
	claims, ok := ctx.Value(SessionClaimsKey).(*auth.AdminClaims)
	return claims, ok
}
