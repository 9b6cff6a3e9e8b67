package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/openc3/cosmos-mcp/auth"
	"github.com/openc3/cosmos-mcp/instrumentation"
	"github.com/openc3/cosmos-mcp/security"
	"github.com/openc3/cosmos-mcp/server"
	"github.com/openc3/cosmos-mcp/storage"
)

// Handler is the gateway front: the authentication middleware plus the OAuth
// HTTP surface (metadata, authorization, token, registration, revocation).
type Handler struct {
	config   *Config
	authSrv  *server.Server // nil in none mode
	verifier *auth.Verifier // nil in none mode

	ipLimiter   *security.RateLimiter
	userLimiter *security.RateLimiter

	exempt  map[string]bool
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// RegisterRoutes mounts the OAuth surface on mux. The MCP endpoint itself is
// mounted by the caller, wrapped in RequireAuth.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.ServeProtectedResourceMetadata)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc("GET /health", h.ServeHealth)

	if h.authSrv == nil {
		return
	}
	mux.HandleFunc("GET /oauth/authorize", h.ServeAuthorization)
	mux.HandleFunc("GET /oauth/callback", h.ServeCallback)
	mux.HandleFunc("POST /oauth/token", h.ServeToken)
	mux.HandleFunc("POST /oauth/revoke", h.ServeRevocation)
	if h.config.Mode == AuthModeDCR {
		mux.HandleFunc("POST /oauth/register", h.ServeClientRegistration)
	}
}

// RequireAuth gates a handler behind bearer token verification. Exempt paths
// and none mode pass straight through; everything else must present a valid
// token before the wrapped handler runs.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.exempt[r.URL.Path] || h.config.Mode == AuthModeNone {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := h.tracer.Start(r.Context(), "gateway.require_auth")
		defer span.End()

		ip := security.ClientIP(r, h.config.RateLimit.TrustProxy)
		if !h.ipLimiter.Allow(ip) {
			h.writeAuthError(w, ErrRateLimitExceeded("too many requests"))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			h.recordAuthOutcome(ctx, "missing_token")
			h.writeAuthError(w, NewAuthError(ErrorCodeInvalidToken, "", "missing bearer token", http.StatusUnauthorized))
			return
		}

		claims, err := h.authenticate(ctx, token)
		if err != nil {
			authErr := h.mapError(err)
			h.recordAuthOutcome(ctx, string(authErr.Failure))
			instrumentation.RecordError(span, err)
			h.logger().Debug("Rejected bearer token",
				"failure", authErr.Failure,
				"ip", ip)
			h.writeAuthError(w, authErr)
			return
		}

		if !h.userLimiter.Allow(claims.Subject) {
			h.writeAuthError(w, ErrRateLimitExceeded("too many requests for user"))
			return
		}

		h.recordAuthOutcome(ctx, "")
		instrumentation.SetSpanSuccess(span)
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
	})
}

// authenticate resolves a bearer token: gateway-minted opaque tokens hit the
// store, everything else is treated as a provider JWT and verified against
// the signer set.
func (h *Handler) authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	if grant, err := h.authSrv.ResolveAccessToken(ctx, token); err == nil {
		return &auth.Claims{
			Subject:   grant.Subject,
			Audience:  []string{grant.ClientID},
			ExpiresAt: grant.ExpiresAt,
			Scopes:    strings.Fields(grant.Scope),
		}, nil
	} else if errors.Is(err, storage.ErrClientRevoked) || errors.Is(err, storage.ErrTokenExpired) {
		// The token was gateway-minted; falling through would misreport the
		// failure as a malformed JWT.
		return nil, err
	}
	return h.verifier.Verify(ctx, token)
}

func (h *Handler) recordAuthOutcome(ctx context.Context, failure string) {
	if h.metrics != nil {
		h.metrics.RecordAuthAttempt(ctx, failure)
	}
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata so MCP clients can
// locate the authorization server.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	resource := trimTrailingSlash(h.config.Resource)
	writeJSON(w, http.StatusOK, &ProtectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{resource},
		ScopesSupported:        h.config.SupportedScopes,
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "OpenC3 COSMOS MCP Gateway",
	})
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata for the gateway's
// own authorization endpoints.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := trimTrailingSlash(h.config.Resource)
	meta := &AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		ScopesSupported:                   h.config.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
	}
	if h.config.Mode == AuthModeDCR {
		meta.RegistrationEndpoint = issuer + "/oauth/register"
	}
	writeJSON(w, http.StatusOK, meta)
}

// ServeHealth is the liveness endpoint. Always exempt from authentication.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeAuthorization starts the authorization code flow and redirects the
// user agent to the identity provider.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if rt := q.Get("response_type"); rt != "code" {
		h.writeAuthError(w, ErrInvalidRequest(fmt.Sprintf("unsupported response_type %q", rt)))
		return
	}

	req := &server.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	authURL, err := h.authSrv.StartAuthorizationFlow(r.Context(), req)
	if err != nil {
		h.writeAuthError(w, h.mapError(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordAuthorizationStarted(r.Context(), req.ClientID)
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles the identity provider's redirect back to the gateway.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		if h.metrics != nil {
			h.metrics.RecordCallbackProcessed(r.Context(), false)
		}
		h.writeAuthError(w, ErrUpstreamRejected(
			fmt.Sprintf("identity provider returned %s: %s", errCode, q.Get("error_description"))))
		return
	}

	redirect, err := h.authSrv.HandleProviderCallback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordCallbackProcessed(r.Context(), false)
		}
		h.writeAuthError(w, h.mapError(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordCallbackProcessed(r.Context(), true)
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeToken is the RFC 6749 token endpoint handling the authorization_code
// and refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeAuthError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		IP:           security.ClientIP(r, h.config.RateLimit.TrustProxy),
	}
	req.ClientID, req.ClientSecret = clientCredentials(r)

	var grant *server.TokenGrant
	var err error
	switch req.GrantType {
	case "authorization_code":
		grant, err = h.authSrv.ExchangeAuthorizationCode(r.Context(), req)
		if err == nil && h.metrics != nil {
			h.metrics.RecordCodeExchange(r.Context(), req.ClientID)
		}
	case "refresh_token":
		grant, err = h.authSrv.RefreshAccessToken(r.Context(), req)
		if err == nil && h.metrics != nil {
			h.metrics.RecordTokenRefresh(r.Context(), req.ClientID, grant.RefreshToken != req.RefreshToken)
		}
	default:
		h.writeAuthError(w, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant_type %q", req.GrantType)))
		return
	}
	if err != nil {
		h.writeAuthError(w, h.mapError(err))
		return
	}

	security.SetSecureHeaders(w)
	writeJSON(w, http.StatusOK, &TokenResponse{
		AccessToken:  grant.AccessToken,
		TokenType:    grant.TokenType,
		ExpiresIn:    grant.ExpiresIn,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
	})
}

// ServeClientRegistration is the RFC 7591 dynamic registration endpoint.
// Mounted only in dcr mode.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	initialToken, ok := bearerToken(r)
	if !ok {
		h.writeAuthError(w, ErrRegistrationTokenInvalid("missing initial access token"))
		return
	}

	var body ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		h.writeAuthError(w, ErrInvalidRequest("malformed registration body"))
		return
	}

	result, err := h.authSrv.RegisterClient(r.Context(), &server.RegistrationRequest{
		InitialAccessToken:      initialToken,
		RedirectURIs:            body.RedirectURIs,
		ClientName:              body.ClientName,
		GrantTypes:              body.GrantTypes,
		ResponseTypes:           body.ResponseTypes,
		TokenEndpointAuthMethod: body.TokenEndpointAuthMethod,
		Scope:                   body.Scope,
		IP:                      security.ClientIP(r, h.config.RateLimit.TrustProxy),
	})
	if err != nil {
		h.writeAuthError(w, h.mapError(err))
		return
	}
	if h.metrics != nil && !result.Replayed {
		h.metrics.RecordClientRegistration(r.Context())
	}

	client := result.Client
	security.SetSecureHeaders(w)
	writeJSON(w, http.StatusCreated, &ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            result.ClientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.ClientName,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		Scope:                   strings.Join(client.Scopes, " "),
	})
}

// ServeRevocation is the RFC 7009 token revocation endpoint.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeAuthError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	req := &server.TokenRequest{
		IP: security.ClientIP(r, h.config.RateLimit.TrustProxy),
	}
	req.ClientID, req.ClientSecret = clientCredentials(r)

	if err := h.authSrv.RevokeGrantTokens(r.Context(), req, r.PostFormValue("token")); err != nil {
		h.writeAuthError(w, h.mapError(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// mapError translates typed failures from the auth, server, and storage
// layers into wire-level responses.
func (h *Handler) mapError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	switch {
	// Token verification
	case errors.Is(err, auth.ErrMalformed):
		return ErrTokenMalformed("token is malformed")
	case errors.Is(err, auth.ErrSignatureInvalid):
		return ErrTokenSignatureInvalid("token signature verification failed")
	case errors.Is(err, auth.ErrExpired):
		return ErrTokenExpired("token is expired")
	case errors.Is(err, auth.ErrAudienceMismatch):
		return ErrAudienceMismatch("token audience does not match this gateway")
	case errors.Is(err, auth.ErrIssuerUntrusted):
		return ErrIssuerUntrusted("token issuer is not trusted")
	case errors.Is(err, auth.ErrUpstreamUnreachable),
		errors.Is(err, server.ErrUpstreamUnreachable):
		return ErrUpstreamUnreachable("identity provider unreachable")

	// Client registry
	case errors.Is(err, server.ErrRegistrationTokenInvalid):
		return ErrRegistrationTokenInvalid("initial access token rejected")
	case errors.Is(err, server.ErrRedirectURIRejected):
		return ErrRedirectURIRejected(err.Error())
	case errors.Is(err, server.ErrDuplicateIdentifier):
		return ErrDuplicateIdentifier("client identifier already registered")
	case errors.Is(err, server.ErrClientRevoked), errors.Is(err, storage.ErrClientRevoked):
		return ErrClientRevoked("client registration is revoked")
	case errors.Is(err, server.ErrInvalidClient):
		return ErrInvalidClient("client authentication failed")

	// Authorization flow
	case errors.Is(err, server.ErrStateMismatch):
		return ErrStateMismatch("state does not match a pending login attempt")
	case errors.Is(err, server.ErrStateExpired):
		return ErrStateExpired("login attempt expired")
	case errors.Is(err, server.ErrUpstreamRejected):
		return ErrUpstreamRejected("identity provider rejected the exchange")
	case errors.Is(err, server.ErrInvalidGrant):
		return ErrInvalidGrant("the grant is invalid")

	// Opaque token resolution
	case errors.Is(err, storage.ErrTokenExpired):
		return ErrTokenExpired("token is expired")
	case errors.Is(err, storage.ErrTokenNotFound):
		return NewAuthError(ErrorCodeInvalidToken, "", "unknown token", http.StatusUnauthorized)
	case errors.Is(err, storage.ErrRegistrationLimit):
		return ErrRateLimitExceeded("registration limit reached")
	}

	h.logger().Error("Unclassified gateway error", "error", err)
	return ErrServerError("internal error")
}

// writeAuthError writes the wire error response. 401s carry WWW-Authenticate
// pointing at the protected resource metadata (RFC 9728 §5.1).
func (h *Handler) writeAuthError(w http.ResponseWriter, authErr *AuthError) {
	if authErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(
			`Bearer resource_metadata=%q, error=%q, error_description=%q`,
			trimTrailingSlash(h.config.Resource)+"/.well-known/oauth-protected-resource",
			authErr.Code, authErr.Description))
	}
	writeJSON(w, authErr.Status, &ErrorResponse{
		Error:            authErr.Code,
		ErrorDescription: authErr.Description,
	})
}

func (h *Handler) logger() *slog.Logger {
	return h.config.Logger
}

// bearerToken extracts the Authorization bearer credential.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// clientCredentials extracts client authentication from Basic auth or the
// form body (RFC 6749 §2.3.1).
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
