// Package storage defines the persistence interfaces for the gateway: client
// registrations, authorization flow state, issued tokens, and initial access
// tokens. Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Sentinel errors returned by storage implementations.
var (
	ErrClientNotFound       = errors.New("client not found")
	ErrClientExists         = errors.New("client already exists")
	ErrClientRevoked        = errors.New("client revoked")
	ErrStateNotFound        = errors.New("authorization state not found")
	ErrCodeNotFound         = errors.New("authorization code not found")
	ErrCodeAlreadyUsed      = errors.New("authorization code already used")
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenExpired         = errors.New("token expired")
	ErrRegistrationLimit    = errors.New("registration limit reached for IP")
	ErrInitialTokenNotFound = errors.New("initial access token not found")
	ErrInitialTokenExpired  = errors.New("initial access token expired")
	ErrInitialTokenConsumed = errors.New("initial access token already consumed")
)

// Client is a registered OAuth client. The identifier is immutable once
// issued; the secret is stored only as a bcrypt hash.
type Client struct {
	ClientID                string
	ClientSecretHash        []byte
	RedirectURIs            []string
	ClientName              string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scopes                  []string
	CreatedAt               time.Time
	Revoked                 bool
	RevokedAt               time.Time

	// RegistrationIP records the registering IP for per-IP limits.
	RegistrationIP string
}

// AuthorizationState is the per-login record created at flow start and
// consumed exactly once at callback time. StateID is the value handed to the
// MCP client; ProviderState is the distinct value sent upstream so the
// callback can be correlated without trusting client input.
type AuthorizationState struct {
	StateID              string
	ClientID             string
	RedirectURI          string
	Scope                string
	CodeChallenge        string
	CodeChallengeMethod  string
	Nonce                string
	ProviderState        string
	ProviderCodeVerifier string
	CreatedAt            time.Time
	ExpiresAt            time.Time
}

// AuthorizationCode is a gateway-issued code handed to the MCP client after a
// successful upstream exchange. Single use; replay is detected via Used.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	Subject             string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool

	// Upstream is the provider token obtained at callback time. It rides
	// inside the code record so it is only released through code exchange,
	// never resolvable as a bearer token. Cleared from the stored record
	// when the code is consumed.
	Upstream *oauth2.Token
}

// InitialAccessToken authorizes dynamic client registration. One-time by
// default; MultiUse permits repeated registrations until expiry.
type InitialAccessToken struct {
	Token      string
	MultiUse   bool
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means no expiry
	Consumed   bool
	ConsumedBy string // client ID of the registration that consumed it
	ConsumedAt time.Time
}

// ClientStore persists client registrations.
type ClientStore interface {
	// SaveClient stores a new registration. Returns ErrClientExists if the
	// identifier is already present (including revoked entries).
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns a registration by identifier. Returns
	// ErrClientNotFound for unknown identifiers and ErrClientRevoked for
	// revoked ones.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// RevokeClient marks a registration inert. Idempotent.
	RevokeClient(ctx context.Context, clientID string) error

	// CheckIPLimit returns ErrRegistrationLimit if the IP has reached the
	// registration cap.
	CheckIPLimit(ctx context.Context, ip string, max int) error
}

// FlowStore persists authorization flow state.
type FlowStore interface {
	// SaveAuthorizationState stores a login attempt record.
	SaveAuthorizationState(ctx context.Context, state *AuthorizationState) error

	// GetAuthorizationStateByProviderState looks up a login attempt by the
	// state value the upstream provider echoes back.
	GetAuthorizationStateByProviderState(ctx context.Context, providerState string) (*AuthorizationState, error)

	// DeleteAuthorizationState removes a login attempt record. Idempotent.
	DeleteAuthorizationState(ctx context.Context, stateID string) error

	// SaveAuthorizationCode stores a gateway-issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically checks that the code exists and is
	// unused, marks it used, and returns it with the staged upstream token.
	// The retained record keeps only the replay-detection fields. Returns
	// ErrCodeAlreadyUsed on replay so callers can trigger token revocation.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code record. Idempotent.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists gateway-issued tokens. Access tokens are held only for
// the active session; refresh tokens only long enough to mint replacements.
type TokenStore interface {
	// SaveAccessToken binds a gateway access token to the upstream token and
	// the (subject, client) pair that owns it.
	SaveAccessToken(ctx context.Context, accessToken string, grant *Grant) error

	// GetAccessToken resolves a gateway access token. Returns
	// ErrTokenNotFound or ErrTokenExpired.
	GetAccessToken(ctx context.Context, accessToken string) (*Grant, error)

	// SaveRefreshToken stores a refresh token for later rotation.
	SaveRefreshToken(ctx context.Context, refreshToken string, grant *Grant) error

	// ConsumeRefreshToken atomically looks up and deletes a refresh token,
	// so concurrent refresh attempts resolve to a single winner. Returns
	// ErrTokenNotFound if absent (possible reuse).
	ConsumeRefreshToken(ctx context.Context, refreshToken string) (*Grant, error)

	// RevokeTokens deletes all tokens for a (subject, client) pair. Used on
	// authorization code replay.
	RevokeTokens(ctx context.Context, subject, clientID string) error
}

// InitialAccessTokenStore persists DCR initial access tokens.
type InitialAccessTokenStore interface {
	// SaveInitialAccessToken stores a registration credential.
	SaveInitialAccessToken(ctx context.Context, token *InitialAccessToken) error

	// ConsumeInitialAccessToken atomically validates and consumes the token
	// on behalf of clientID. A retry with the clientID that already consumed
	// the token succeeds (idempotent registration); any other caller gets
	// ErrInitialTokenConsumed. Expired tokens fail with
	// ErrInitialTokenExpired, unknown ones with ErrInitialTokenNotFound.
	ConsumeInitialAccessToken(ctx context.Context, token, clientID string) error
}

// Grant is the gateway-side record backing an issued token: whose session it
// is, which client it was minted for, and the upstream token it wraps.
type Grant struct {
	Subject   string
	ClientID  string
	Scope     string
	Code      string // gateway authorization code this grant descends from
	Upstream  *oauth2.Token
	ExpiresAt time.Time
}

// Store aggregates all storage interfaces. The in-memory implementation
// satisfies it; external backends may compose separate implementations.
type Store interface {
	ClientStore
	FlowStore
	TokenStore
	InitialAccessTokenStore
}
