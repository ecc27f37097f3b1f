package gate

import (
	"context"

	"github.com/google/uuid"
)

// Scope is the per-request tenant context established when a credential
// verifies. It travels through the request's context.Context, never
// through package state, so concurrent requests cannot observe each
// other's organization.
type Scope struct {
	OrganizationID uuid.UUID
	CredentialID   uuid.UUID
	ActorID        *uuid.UUID
	IsAdmin        bool
	RequestID      string
}

type scopeKey struct{}

// WithScope returns a context carrying the request scope.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext extracts the request scope, if one was established.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(*Scope)
	return scope, ok
}
