package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// AuthMode selects the authentication strategy at startup. The mode is plain
// configuration; there is exactly one serving path regardless of mode.
type AuthMode string

const (
	// AuthModeNone disables the authentication gate entirely. Development only.
	AuthModeNone AuthMode = "none"

	// AuthModeStatic uses a pre-provisioned identity provider client
	// (client_id/client_secret supplied out-of-band). Dynamic registration
	// is disabled.
	AuthModeStatic AuthMode = "static"

	// AuthModeDCR enables RFC 7591 dynamic client registration guarded by an
	// initial access token, in addition to everything static mode provides.
	AuthModeDCR AuthMode = "dcr"
)

// Valid reports whether m is a known authentication mode.
func (m AuthMode) Valid() bool {
	switch m {
	case AuthModeNone, AuthModeStatic, AuthModeDCR:
		return true
	}
	return false
}

// Config holds the gateway configuration.
type Config struct {
	// Resource is the externally visible base URL of this gateway. It is the
	// RFC 8707 resource identifier and the base for redirect URIs.
	Resource string

	// Mode selects the authentication strategy (none, static, dcr).
	Mode AuthMode

	// SupportedScopes lists the scopes this gateway accepts. Empty allows all.
	SupportedScopes []string

	// Keycloak holds the upstream identity provider settings.
	Keycloak KeycloakConfig

	// RateLimit holds per-IP and per-user rate limiting settings.
	RateLimit RateLimitConfig

	// Security holds security settings (secure by default).
	Security SecurityConfig

	// ExemptPaths lists request paths that bypass the bearer-token gate
	// entirely (e.g. /health). Static configuration; matched exactly.
	ExemptPaths []string

	// CleanupInterval is how often expired flow state is swept.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// HTTPClient is used for all upstream identity provider requests.
	// Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// KeycloakConfig holds the upstream Keycloak connection settings.
type KeycloakConfig struct {
	// BaseURL is the Keycloak base URL (e.g. https://keycloak.example.com).
	BaseURL string

	// Realm is the Keycloak realm. The issuer is {BaseURL}/realms/{Realm}.
	Realm string

	// ClientID and ClientSecret identify this gateway to Keycloak.
	// Required in static mode; in dcr mode they are the credentials the
	// gateway itself uses for the upstream code exchange.
	ClientID     string
	ClientSecret string

	// RedirectURL is where Keycloak redirects after authentication.
	// Defaults to {Resource}/oauth/callback.
	RedirectURL string

	// Audience is the expected token audience. Defaults to ClientID.
	Audience string

	// RequestTimeout bounds each upstream call. Default: 10s.
	RequestTimeout time.Duration
}

// Issuer returns the OIDC issuer URL for the configured realm.
func (k KeycloakConfig) Issuer() string {
	return fmt.Sprintf("%s/realms/%s", trimTrailingSlash(k.BaseURL), k.Realm)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// UserRate is requests per second per authenticated subject, applied in
	// addition to IP limiting. Zero disables.
	UserRate int

	// UserBurst is the maximum burst size per authenticated subject.
	UserBurst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool
}

// SecurityConfig holds security settings (secure by default).
type SecurityConfig struct {
	// InitialAccessToken guards dynamic client registration in dcr mode.
	InitialAccessToken string

	// InitialAccessTokenTTL bounds how long the initial access token remains
	// usable after startup. Zero means no expiry.
	InitialAccessTokenTTL time.Duration

	// InitialAccessTokenMultiUse allows the initial access token to register
	// more than one client. Default false: one token, one registration.
	InitialAccessTokenMultiUse bool

	// MaxClientsPerIP limits registrations per IP. Zero means 10.
	MaxClientsPerIP int

	// AllowInsecureRedirectURIs permits plain-http redirect URIs beyond
	// loopback addresses. Development only.
	AllowInsecureRedirectURIs bool

	// AllowInsecureIssuer permits a plain-http Keycloak issuer.
	// Development only.
	AllowInsecureIssuer bool

	// DisableRefreshTokenRotation keeps refresh tokens stable across use.
	// Violates OAuth 2.1; legacy clients only.
	DisableRefreshTokenRotation bool

	// EnableAuditLogging enables structured security event logging.
	EnableAuditLogging bool
}

// validate checks the configuration for the selected mode.
func (c *Config) validate() error {
	if c.Resource == "" {
		return fmt.Errorf("Resource is required")
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	if c.Mode == AuthModeNone {
		return nil
	}
	if c.Keycloak.BaseURL == "" {
		return fmt.Errorf("Keycloak.BaseURL is required in %s mode", c.Mode)
	}
	if c.Keycloak.Realm == "" {
		return fmt.Errorf("Keycloak.Realm is required in %s mode", c.Mode)
	}
	if c.Keycloak.ClientID == "" {
		return fmt.Errorf("Keycloak.ClientID is required in %s mode", c.Mode)
	}
	if c.Mode == AuthModeDCR && c.Security.InitialAccessToken == "" {
		return fmt.Errorf("Security.InitialAccessToken is required in dcr mode")
	}
	return nil
}

// applyDefaults fills zero values with working defaults and logs warnings for
// insecure settings.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.Keycloak.RedirectURL == "" {
		c.Keycloak.RedirectURL = trimTrailingSlash(c.Resource) + "/oauth/callback"
	}
	if c.Keycloak.Audience == "" {
		c.Keycloak.Audience = c.Keycloak.ClientID
	}
	if c.Keycloak.RequestTimeout <= 0 {
		c.Keycloak.RequestTimeout = 10 * time.Second
	}
	if c.Security.MaxClientsPerIP == 0 {
		c.Security.MaxClientsPerIP = 10
	}
	if len(c.ExemptPaths) == 0 {
		c.ExemptPaths = []string{"/health"}
	}

	if c.Mode == AuthModeNone {
		c.Logger.Warn("Authentication is DISABLED",
			"mode", c.Mode,
			"recommendation", "use static or dcr mode outside development")
	}
	if c.Security.AllowInsecureRedirectURIs {
		c.Logger.Warn("Plain-http redirect URIs are allowed",
			"risk", "authorization codes can leak in transit")
	}
	if c.Security.DisableRefreshTokenRotation {
		c.Logger.Warn("Refresh token rotation is disabled",
			"risk", "stolen refresh tokens remain valid until expiry")
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
