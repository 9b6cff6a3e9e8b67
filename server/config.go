package server

import (
	"log/slog"
)

// Config holds authorization server configuration.
type Config struct {
	// Issuer is the gateway's issuer identifier (its externally visible
	// base URL).
	Issuer string

	// StateTTL is how long a login attempt may sit between the redirect to
	// the provider and the callback.
	StateTTL int64 // seconds, default: 600 (10 minutes)

	// AuthorizationCodeTTL is how long gateway-issued codes are valid.
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long gateway access tokens are valid.
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long gateway refresh tokens are valid.
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// RequirePKCE makes code_challenge mandatory on authorization requests
	// (OAuth 2.1). Default: true.
	RequirePKCE bool

	// AllowPKCEPlain permits the deprecated 'plain' challenge method.
	// Default: false; only S256 is accepted.
	AllowPKCEPlain bool

	// RotateRefreshTokens replaces the refresh token on every use
	// (OAuth 2.1). Default: true.
	RotateRefreshTokens bool

	// MaxClientsPerIP caps dynamic registrations per IP. Default: 10.
	MaxClientsPerIP int

	// SupportedScopes lists allowed scopes. Empty allows all.
	SupportedScopes []string

	// AllowInsecureRedirectURIs permits plain-http redirect URIs beyond
	// loopback hosts. Development only.
	AllowInsecureRedirectURIs bool

	// MinStateLength rejects short state values that weaken CSRF
	// protection. Default: 8.
	MinStateLength int
}

// applySecureDefaults fills zero values and logs warnings for settings that
// weaken the OAuth 2.1 posture.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.StateTTL == 0 {
		config.StateTTL = 600
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}
	if config.MinStateLength == 0 {
		config.MinStateLength = 8
	}

	// A zero-value config means the caller never touched the security bools;
	// flip them to the secure defaults rather than treating false as intent.
	if !config.RequirePKCE && !config.AllowPKCEPlain && !config.RotateRefreshTokens {
		config.RequirePKCE = true
		config.RotateRefreshTokens = true
		return config
	}

	if !config.RequirePKCE {
		logger.Warn("PKCE is not required",
			"risk", "authorization code interception",
			"recommendation", "set RequirePKCE=true for OAuth 2.1 compliance")
	}
	if config.AllowPKCEPlain {
		logger.Warn("Plain PKCE method is allowed",
			"recommendation", "set AllowPKCEPlain=false to require S256")
	}
	if !config.RotateRefreshTokens {
		logger.Warn("Refresh token rotation is disabled",
			"risk", "stolen refresh tokens remain valid until expiry")
	}
	if config.AllowInsecureRedirectURIs {
		logger.Warn("Plain-http redirect URIs are allowed",
			"risk", "authorization codes can leak in transit")
	}

	return config
}
