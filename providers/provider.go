// Package providers defines the interface to the upstream identity provider
// that issues end-user tokens. The gateway ships a Keycloak implementation;
// anything speaking standard OIDC can be substituted.
package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is the upstream identity provider boundary used by the
// authorization flow. All calls carry a bounded timeout and may fail
// independently without corrupting gateway state.
type Provider interface {
	// Name returns the provider name (e.g. "keycloak").
	Name() string

	// AuthorizationURL builds the upstream authorization URL for a login
	// attempt. codeChallenge/codeChallengeMethod carry PKCE (empty disables).
	// If scopes is empty the provider's defaults are used.
	AuthorizationURL(state, codeChallenge, codeChallengeMethod string, scopes []string) string

	// ExchangeCode exchanges an upstream authorization code for tokens.
	// codeVerifier is the PKCE verifier paired with the challenge sent in
	// AuthorizationURL.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)

	// ValidateToken validates an upstream access token and returns the
	// authenticated user.
	ValidateToken(ctx context.Context, accessToken string) (*UserInfo, error)

	// RefreshToken mints a fresh upstream token from a refresh token.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokeToken revokes a token at the provider. Providers without a
	// revocation endpoint return nil.
	RevokeToken(ctx context.Context, token string) error

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// UserInfo is the authenticated end user as reported by the provider.
type UserInfo struct {
	// Subject is the stable unique user identifier.
	Subject string

	// Email is the user's email address, if released.
	Email string

	// EmailVerified indicates whether the provider verified the email.
	EmailVerified bool

	// Name is the user's display name.
	Name string

	// PreferredUsername is the provider-side login name.
	PreferredUsername string

	// Roles carries realm roles, if the provider releases them.
	Roles []string
}
