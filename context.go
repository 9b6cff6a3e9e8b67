package gateway

import (
	"context"

	"github.com/openc3/cosmos-mcp/auth"
)

type claimsContextKey struct{}

// ContextWithClaims attaches verified token claims to the request context.
func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the verified claims attached by the
// authentication middleware, or nil when the request was exempt.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims
}
