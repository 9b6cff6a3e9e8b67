package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openc3/cosmos-mcp/storage"
)

// AuthorizationRequest is a parsed /oauth/authorize request.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest is a parsed /oauth/token request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
	IP           string
}

// TokenGrant is a successful token endpoint response.
type TokenGrant struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
	Subject      string
}

// StartAuthorizationFlow validates an authorization request, records the
// login attempt, and returns the upstream authorization URL to redirect the
// user to. The state sent upstream is generated here and never the client's
// own state value, so the callback correlates on a value the client never
// saw.
func (s *Server) StartAuthorizationFlow(ctx context.Context, req *AuthorizationRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("authorization request is required")
	}
	if req.State == "" {
		return "", fmt.Errorf("state is required")
	}
	if len(req.State) < s.Config.MinStateLength {
		return "", fmt.Errorf("state must be at least %d characters", s.Config.MinStateLength)
	}
	if err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return "", err
	}
	if err := s.validateScope(req.Scope); err != nil {
		return "", err
	}

	client, err := s.LookupClient(ctx, req.ClientID)
	if err != nil {
		return "", err
	}
	if !redirectURIRegistered(client.RedirectURIs, req.RedirectURI) {
		return "", fmt.Errorf("%w: %q is not registered for client %s",
			ErrRedirectURIRejected, req.RedirectURI, client.ClientID)
	}

	now := time.Now()
	state := &storage.AuthorizationState{
		StateID:              req.State,
		ClientID:             client.ClientID,
		RedirectURI:          req.RedirectURI,
		Scope:                req.Scope,
		CodeChallenge:        req.CodeChallenge,
		CodeChallengeMethod:  req.CodeChallengeMethod,
		Nonce:                generateToken(),
		ProviderState:        generateToken(),
		ProviderCodeVerifier: oauth2.GenerateVerifier(),
		CreatedAt:            now,
		ExpiresAt:            now.Add(time.Duration(s.Config.StateTTL) * time.Second),
	}
	if err := s.store.SaveAuthorizationState(ctx, state); err != nil {
		return "", fmt.Errorf("failed to save authorization state: %w", err)
	}

	challenge := oauth2.S256ChallengeFromVerifier(state.ProviderCodeVerifier)
	authURL := s.provider.AuthorizationURL(state.ProviderState, challenge, "S256", strings.Fields(req.Scope))

	s.Logger.Debug("Started authorization flow",
		"client_id", client.ClientID,
		"provider", s.provider.Name())
	return authURL, nil
}

// HandleProviderCallback completes a login attempt: it correlates the
// provider's state echo with the pending attempt, exchanges the upstream
// code, and returns the client redirect URI carrying a freshly minted
// gateway authorization code.
//
// The pending attempt is deleted before the upstream exchange, so a replayed
// callback fails with a state mismatch no matter how the first attempt ended.
func (s *Server) HandleProviderCallback(ctx context.Context, providerState, code string) (string, error) {
	if providerState == "" || code == "" {
		return "", fmt.Errorf("%w: missing state or code", ErrStateMismatch)
	}

	state, err := s.store.GetAuthorizationStateByProviderState(ctx, providerState)
	if err != nil {
		if errors.Is(err, storage.ErrStateNotFound) {
			if s.Auditor != nil {
				s.Auditor.LogFlowFailure("", "", "callback state matches no pending attempt")
			}
			return "", fmt.Errorf("%w: unknown callback state", ErrStateMismatch)
		}
		return "", err
	}

	if err := s.store.DeleteAuthorizationState(ctx, state.StateID); err != nil {
		s.Logger.Warn("Failed to delete authorization state", "error", err)
	}

	if time.Now().After(state.ExpiresAt) {
		if s.Auditor != nil {
			s.Auditor.LogFlowFailure(state.ClientID, "", "login attempt expired before callback")
		}
		return "", fmt.Errorf("%w: login attempt older than %ds", ErrStateExpired, s.Config.StateTTL)
	}

	upstream, err := s.provider.ExchangeCode(ctx, code, state.ProviderCodeVerifier)
	if err != nil {
		return "", s.classifyUpstreamError(state.ClientID, err)
	}

	user, err := s.provider.ValidateToken(ctx, upstream.AccessToken)
	if err != nil {
		return "", s.classifyUpstreamError(state.ClientID, err)
	}

	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                generateToken(),
		ClientID:            state.ClientID,
		RedirectURI:         state.RedirectURI,
		Scope:               state.Scope,
		Subject:             user.Subject,
		CodeChallenge:       state.CodeChallenge,
		CodeChallengeMethod: state.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		Upstream:            upstream,
	}
	if err := s.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	redirect, err := url.Parse(state.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("%w: stored redirect URI unparseable", ErrRedirectURIRejected)
	}
	q := redirect.Query()
	q.Set("code", authCode.Code)
	q.Set("state", state.StateID)
	redirect.RawQuery = q.Encode()

	s.Logger.Info("Completed provider callback",
		"client_id", state.ClientID,
		"subject", user.Subject)
	return redirect.String(), nil
}

// ExchangeAuthorizationCode handles the authorization_code grant. Failures
// after client authentication collapse to ErrInvalidGrant so the response
// does not reveal which check failed; the audit log keeps the specifics.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*TokenGrant, error) {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	code, err := s.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeAlreadyUsed):
			// Replay of a used code. Revoke everything minted from it
			// (RFC 6749 §4.1.2 / OAuth 2.1 §7.2.2).
			if code != nil {
				if revokeErr := s.store.RevokeTokens(ctx, code.Subject, code.ClientID); revokeErr != nil {
					s.Logger.Error("Failed to revoke tokens after code replay", "error", revokeErr)
				}
				if s.Auditor != nil {
					s.Auditor.LogCodeReplay(code.Subject, code.ClientID, req.IP)
				}
			}
			return nil, fmt.Errorf("%w: code already redeemed", ErrInvalidGrant)
		case errors.Is(err, storage.ErrCodeNotFound):
			return nil, fmt.Errorf("%w: unknown code", ErrInvalidGrant)
		default:
			return nil, err
		}
	}

	if code.ClientID != client.ClientID {
		if s.Auditor != nil {
			s.Auditor.LogFlowFailure(client.ClientID, req.IP, "code presented by a different client")
		}
		return nil, fmt.Errorf("%w: code was issued to another client", ErrInvalidGrant)
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri does not match the authorization request", ErrInvalidGrant)
	}
	if time.Now().After(code.ExpiresAt) {
		return nil, fmt.Errorf("%w: code expired", ErrInvalidGrant)
	}
	if err := verifyCodeVerifier(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogFlowFailure(client.ClientID, req.IP, "PKCE verification failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}

	if code.Upstream == nil {
		return nil, fmt.Errorf("%w: upstream grant no longer staged", ErrInvalidGrant)
	}

	grant, err := s.issueTokens(ctx, &storage.Grant{
		Subject:  code.Subject,
		ClientID: code.ClientID,
		Scope:    code.Scope,
		Code:     code.Code,
		Upstream: code.Upstream,
	})
	if err != nil {
		return nil, err
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(code.Subject, client.ClientID, req.IP, code.Scope)
	}
	return grant, nil
}

// RefreshAccessToken handles the refresh_token grant. The stored refresh
// token is consumed atomically, so concurrent refreshes with the same token
// resolve to a single winner; when rotation is enabled the loser's token is
// already gone.
func (s *Server) RefreshAccessToken(ctx context.Context, req *TokenRequest) (*TokenGrant, error) {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh_token", ErrInvalidGrant)
	}

	old, err := s.store.ConsumeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: unknown or expired refresh token", ErrInvalidGrant)
		}
		return nil, err
	}
	if old.ClientID != client.ClientID {
		if s.Auditor != nil {
			s.Auditor.LogFlowFailure(client.ClientID, req.IP, "refresh token presented by a different client")
		}
		return nil, fmt.Errorf("%w: refresh token was issued to another client", ErrInvalidGrant)
	}

	// Refresh upstream too when the wrapped token has its own refresh token,
	// so the session does not outlive the provider's.
	upstream := old.Upstream
	if upstream != nil && upstream.RefreshToken != "" && !upstream.Valid() {
		fresh, refreshErr := s.provider.RefreshToken(ctx, upstream.RefreshToken)
		if refreshErr != nil {
			return nil, s.classifyUpstreamError(client.ClientID, refreshErr)
		}
		upstream = fresh
	}

	next := &storage.Grant{
		Subject:  old.Subject,
		ClientID: old.ClientID,
		Scope:    old.Scope,
		Code:     old.Code,
		Upstream: upstream,
	}

	if !s.Config.RotateRefreshTokens {
		// Rotation disabled: put the consumed token back unchanged.
		next.ExpiresAt = old.ExpiresAt
		if err := s.store.SaveRefreshToken(ctx, req.RefreshToken, next); err != nil {
			return nil, fmt.Errorf("failed to restore refresh token: %w", err)
		}
	}

	grant, err := s.issueTokens(ctx, next)
	if err != nil {
		return nil, err
	}
	if !s.Config.RotateRefreshTokens {
		grant.RefreshToken = req.RefreshToken
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(old.Subject, client.ClientID, req.IP, s.Config.RotateRefreshTokens)
	}
	return grant, nil
}

// issueTokens mints a gateway access token (and, with rotation enabled, a
// refresh token) for the grant and persists both.
func (s *Server) issueTokens(ctx context.Context, grant *storage.Grant) (*TokenGrant, error) {
	now := time.Now()
	accessToken := generateToken()

	access := *grant
	access.ExpiresAt = now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)
	if err := s.store.SaveAccessToken(ctx, accessToken, &access); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	result := &TokenGrant{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.Config.AccessTokenTTL,
		Scope:       grant.Scope,
		Subject:     grant.Subject,
	}

	if s.Config.RotateRefreshTokens {
		refreshToken := generateToken()
		refresh := *grant
		refresh.ExpiresAt = now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second)
		if err := s.store.SaveRefreshToken(ctx, refreshToken, &refresh); err != nil {
			return nil, fmt.Errorf("failed to save refresh token: %w", err)
		}
		result.RefreshToken = refreshToken
	}
	return result, nil
}

// ResolveAccessToken maps a gateway-issued opaque access token back to its
// grant. Used by the middleware when tokens are gateway-minted rather than
// provider JWTs.
func (s *Server) ResolveAccessToken(ctx context.Context, accessToken string) (*storage.Grant, error) {
	grant, err := s.store.GetAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, grant.ClientID)
	if err != nil || client.Revoked {
		return nil, storage.ErrClientRevoked
	}
	return grant, nil
}

// RevokeGrantTokens implements RFC 7009 revocation for gateway tokens. Per
// the RFC, unknown tokens are not an error.
func (s *Server) RevokeGrantTokens(ctx context.Context, req *TokenRequest, token string) error {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return err
	}

	grant, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		if grant, err = s.store.ConsumeRefreshToken(ctx, token); err != nil {
			return nil
		}
	}
	if grant.ClientID != client.ClientID {
		return nil
	}

	if err := s.store.RevokeTokens(ctx, grant.Subject, grant.ClientID); err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	if grant.Upstream != nil && grant.Upstream.AccessToken != "" {
		if err := s.provider.RevokeToken(ctx, grant.Upstream.AccessToken); err != nil {
			s.Logger.Warn("Upstream revocation failed", "error", err)
		}
	}
	return nil
}

// classifyUpstreamError separates provider refusals from transport failures.
// An *oauth2.RetrieveError means the provider answered and said no; anything
// else on the way to the provider is a reachability problem.
func (s *Server) classifyUpstreamError(clientID string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if s.Auditor != nil {
			s.Auditor.LogFlowFailure(clientID, "", "provider rejected the exchange")
		}
		return fmt.Errorf("%w: %s", ErrUpstreamRejected, retrieveErr.ErrorCode)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, urlErr)
	}

	if s.Auditor != nil {
		s.Auditor.LogFlowFailure(clientID, "", "provider exchange failed")
	}
	return fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
}
