package server

import (
	"context"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/openc3/cosmos-mcp/providers/mock"
	"github.com/openc3/cosmos-mcp/security"
	"github.com/openc3/cosmos-mcp/storage/memory"
)

const (
	testClientID     = "client-1"
	testClientSecret = "secret-1"
	testRedirectURI  = "https://app.example.com/callback"
	testState        = "client-state-123"
)

func newTestServer(t *testing.T, cfg *Config) (*Server, *mock.Provider, *memory.Store) {
	t.Helper()

	provider := mock.New()
	store := memory.New()
	t.Cleanup(store.Stop)

	if cfg == nil {
		cfg = &Config{Issuer: "https://gw.example.com"}
	}
	auditor := security.NewAuditor(slog.Default(), false)
	srv, err := New(provider, store, auditor, slog.Default(), cfg)
	require.NoError(t, err)

	_, err = srv.RegisterStaticClient(context.Background(), testClientID, testClientSecret, []string{testRedirectURI})
	require.NoError(t, err)

	return srv, provider, store
}

// runFlow drives a full authorization round trip and returns the issued
// token grant plus the PKCE verifier used.
func runFlow(t *testing.T, srv *Server) *TokenGrant {
	t.Helper()
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "openid",
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	providerState := parsed.Query().Get("state")
	require.NotEmpty(t, providerState)
	require.NotEqual(t, testState, providerState, "upstream must never see the client's state")

	redirect, err := srv.HandleProviderCallback(ctx, providerState, "upstream-code")
	require.NoError(t, err)

	redirectURL, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, testState, redirectURL.Query().Get("state"))
	code := redirectURL.Query().Get("code")
	require.NotEmpty(t, code)

	grant, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
	require.NoError(t, err)
	return grant
}

func TestAuthorizationRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	grant := runFlow(t, srv)
	assert.NotEmpty(t, grant.AccessToken)
	assert.NotEmpty(t, grant.RefreshToken)
	assert.Equal(t, "Bearer", grant.TokenType)
	assert.Equal(t, "user-1", grant.Subject)

	// The resulting token resolves to the client it was minted for.
	resolved, err := srv.ResolveAccessToken(context.Background(), grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testClientID, resolved.ClientID)
	assert.Equal(t, "user-1", resolved.Subject)
}

func TestAuthorizationCodeIsNotABearerToken(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "openid",
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	redirect, err := srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	require.NoError(t, err)
	redirectURL, _ := url.Parse(redirect)
	code := redirectURL.Query().Get("code")
	require.NotEmpty(t, code)

	// Between callback and exchange nothing derived from the code may
	// authenticate a request. Holding the code alone must be worthless
	// without client credentials and the PKCE verifier.
	_, err = srv.ResolveAccessToken(ctx, code)
	require.Error(t, err, "the authorization code must not resolve as an access token")
	_, err = srv.ResolveAccessToken(ctx, "pending:"+code)
	require.Error(t, err, "no staged form of the code may resolve as an access token")

	grant, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
	require.NoError(t, err)

	_, err = srv.ResolveAccessToken(ctx, grant.AccessToken)
	require.NoError(t, err)
	_, err = srv.ResolveAccessToken(ctx, "pending:"+code)
	assert.Error(t, err, "the staged upstream grant must not outlive the exchange")
}

func TestStartFlowRejectsShortState(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	_, err := srv.StartAuthorizationFlow(context.Background(), &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               "short",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()),
		CodeChallengeMethod: "S256",
	})
	assert.Error(t, err)
}

func TestStartFlowRequiresPKCE(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	_, err := srv.StartAuthorizationFlow(context.Background(), &AuthorizationRequest{
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		State:       testState,
	})
	assert.Error(t, err)
}

func TestStartFlowRejectsUnregisteredRedirect(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	_, err := srv.StartAuthorizationFlow(context.Background(), &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         "https://evil.example.com/callback",
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()),
		CodeChallengeMethod: "S256",
	})
	assert.ErrorIs(t, err, ErrRedirectURIRejected)
}

func TestCallbackStateMismatch(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	_, err := srv.HandleProviderCallback(context.Background(), "never-issued", "upstream-code")
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestCallbackStateExpired(t *testing.T) {
	// Negative TTL makes every login attempt expire immediately.
	srv, _, _ := newTestServer(t, &Config{Issuer: "https://gw.example.com", StateTTL: -1})
	ctx := context.Background()

	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	_, err = srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestCallbackIsSingleUse(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)
	providerState := parsed.Query().Get("state")

	_, err = srv.HandleProviderCallback(ctx, providerState, "upstream-code")
	require.NoError(t, err)

	// A replayed callback fails no matter how the first attempt ended.
	_, err = srv.HandleProviderCallback(ctx, providerState, "upstream-code")
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestUpstreamRejected(t *testing.T) {
	srv, provider, _ := newTestServer(t, nil)
	ctx := context.Background()

	provider.ExchangeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
		return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
	}

	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	_, err = srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	assert.ErrorIs(t, err, ErrUpstreamRejected)
}

func TestUpstreamUnreachable(t *testing.T) {
	srv, provider, _ := newTestServer(t, nil)
	ctx := context.Background()

	provider.ExchangeFunc = func(context.Context, string, string) (*oauth2.Token, error) {
		return nil, &url.Error{Op: "Post", URL: "https://idp.example.com/token", Err: context.DeadlineExceeded}
	}

	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier()),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	_, err = srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
}

func TestCodeReplayRevokesTokens(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	redirect, err := srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	require.NoError(t, err)
	redirectURL, _ := url.Parse(redirect)
	code := redirectURL.Query().Get("code")

	req := &TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	}
	grant, err := srv.ExchangeAuthorizationCode(ctx, req)
	require.NoError(t, err)

	// Replaying the code must fail and revoke everything minted from it.
	_, err = srv.ExchangeAuthorizationCode(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = srv.ResolveAccessToken(ctx, grant.AccessToken)
	assert.Error(t, err, "tokens minted from a replayed code must be revoked")
}

func TestExchangeRejectsWrongVerifier(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	redirect, err := srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	require.NoError(t, err)
	redirectURL, _ := url.Parse(redirect)

	_, err = srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		Code:         redirectURL.Query().Get("code"),
		RedirectURI:  testRedirectURI,
		CodeVerifier: oauth2.GenerateVerifier(),
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestExchangeRejectsWrongClient(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	_, err := srv.RegisterStaticClient(ctx, "client-2", "secret-2", []string{testRedirectURI})
	require.NoError(t, err)

	verifier := oauth2.GenerateVerifier()
	authURL, err := srv.StartAuthorizationFlow(ctx, &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		State:               testState,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)

	redirect, err := srv.HandleProviderCallback(ctx, parsed.Query().Get("state"), "upstream-code")
	require.NoError(t, err)
	redirectURL, _ := url.Parse(redirect)

	_, err = srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    "authorization_code",
		Code:         redirectURL.Query().Get("code"),
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
		ClientID:     "client-2",
		ClientSecret: "secret-2",
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshRotatesToken(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	grant := runFlow(t, srv)

	refreshed, err := srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: grant.RefreshToken,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEqual(t, grant.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, grant.RefreshToken, refreshed.RefreshToken, "rotation must mint a new refresh token")

	// The consumed refresh token is gone.
	_, err = srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: grant.RefreshToken,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefreshWithoutRotation(t *testing.T) {
	srv, _, _ := newTestServer(t, &Config{
		Issuer:      "https://gw.example.com",
		RequirePKCE: true,
	})

	grant := runFlow(t, srv)
	assert.Empty(t, grant.RefreshToken, "rotation disabled mints no refresh token on exchange")
}

func TestRevokeGrantTokens(t *testing.T) {
	srv, provider, _ := newTestServer(t, nil)
	ctx := context.Background()

	grant := runFlow(t, srv)

	err := srv.RevokeGrantTokens(ctx, &TokenRequest{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	}, grant.AccessToken)
	require.NoError(t, err)

	_, err = srv.ResolveAccessToken(ctx, grant.AccessToken)
	assert.Error(t, err)
	assert.NotEmpty(t, provider.RevokedTokens, "upstream token must be revoked too")

	// Unknown tokens are not an error (RFC 7009).
	assert.NoError(t, srv.RevokeGrantTokens(ctx, &TokenRequest{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
	}, "never-issued"))
}
