// Package keycloak implements the provider interface for Keycloak. Endpoints
// are resolved through OIDC discovery against the realm issuer, so the
// gateway only needs the Keycloak base URL and realm name.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openc3/cosmos-mcp/providers"
	"github.com/openc3/cosmos-mcp/providers/oidc"
)

// defaultScopes requests identity claims plus a refresh token.
var defaultScopes = []string{"openid", "profile", "email"}

// Config holds Keycloak provider configuration.
type Config struct {
	// IssuerURL is the realm issuer, {base}/realms/{realm}.
	IssuerURL string

	// ClientID and ClientSecret are the gateway's own credentials at
	// Keycloak.
	ClientID     string
	ClientSecret string

	// RedirectURL is where Keycloak sends the user back after login. Must
	// match the value registered at Keycloak exactly.
	RedirectURL string

	// Scopes overrides the default requested scopes.
	Scopes []string

	// AllowInsecure permits a plain-http issuer. Development only.
	AllowInsecure bool

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout bounds each provider call. Default: 10s.
	RequestTimeout time.Duration
}

// Provider implements providers.Provider for Keycloak.
type Provider struct {
	*oauth2.Config
	discoveryClient *oidc.DiscoveryClient
	issuerURL       string
	httpClient      *http.Client
	requestTimeout  time.Duration
}

var _ providers.Provider = (*Provider)(nil)

// NewProvider creates a Keycloak provider. Discovery runs at construction;
// a transient failure is retried once with a short backoff before giving up.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	discoveryClient := oidc.NewDiscoveryClient(httpClient, 1*time.Hour, nil, cfg.AllowInsecure)

	doc, err := discoverWithRetry(discoveryClient, cfg.IssuerURL, timeout)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  doc.AuthorizationEndpoint,
				TokenURL: doc.TokenEndpoint,
			},
		},
		discoveryClient: discoveryClient,
		issuerURL:       cfg.IssuerURL,
		httpClient:      httpClient,
		requestTimeout:  timeout,
	}, nil
}

func discoverWithRetry(client *oidc.DiscoveryClient, issuerURL string, timeout time.Duration) (*oidc.DiscoveryDocument, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	doc, err := client.Discover(ctx, issuerURL)
	if err == nil {
		return doc, nil
	}

	time.Sleep(500 * time.Millisecond)

	retryCtx, cancelRetry := context.WithTimeout(context.Background(), timeout)
	defer cancelRetry()

	doc, err = client.Discover(retryCtx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}
	return doc, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "keycloak"
}

// AuthorizationURL builds the Keycloak authorization URL with PKCE.
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string, scopes []string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" && codeChallengeMethod != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}

	config := *p.Config
	if len(scopes) > 0 {
		config.Scopes = append([]string(nil), scopes...)
	}
	return config.AuthCodeURL(state, opts...)
}

// ensureContextTimeout adds the provider timeout when the caller did not
// bring a deadline.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges an upstream authorization code for tokens.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// ValidateToken calls the realm userinfo endpoint and returns the
// authenticated user.
func (p *Provider) ValidateToken(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	doc, err := p.discoveryClient.Discover(ctx, p.issuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery failed: %w", err)
	}
	if doc.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("userinfo endpoint not available")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.UserInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		EmailVerified     bool   `json:"email_verified"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		RealmAccess       struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("userinfo response missing sub")
	}

	return &providers.UserInfo{
		Subject:           info.Sub,
		Email:             info.Email,
		EmailVerified:     info.EmailVerified,
		Name:              info.Name,
		PreferredUsername: info.PreferredUsername,
		Roles:             info.RealmAccess.Roles,
	}, nil
}

// RefreshToken mints a fresh token. Keycloak rotates refresh tokens; the
// oauth2 library captures the replacement from the response.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	source := p.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return newToken, nil
}

// RevokeToken revokes a token at the realm revocation endpoint (RFC 7009).
// Realms without a revocation endpoint degrade gracefully.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	doc, err := p.discoveryClient.Discover(ctx, p.issuerURL)
	if err != nil {
		return fmt.Errorf("OIDC discovery failed: %w", err)
	}
	if doc.RevocationEndpoint == "" {
		return nil
	}

	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.RevocationEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.ClientID, p.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed with status %d", resp.StatusCode)
	}
	return nil
}

// HealthCheck verifies the realm discovery endpoint is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	if _, err := p.discoveryClient.Discover(ctx, p.issuerURL); err != nil {
		return fmt.Errorf("keycloak unreachable: %w", err)
	}
	return nil
}
