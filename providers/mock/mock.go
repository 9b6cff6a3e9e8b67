// Package mock provides a configurable in-memory provider for tests.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/openc3/cosmos-mcp/providers"
)

// Provider is a test double for providers.Provider. Behavior is controlled
// through the exported function fields; unset fields use working defaults.
type Provider struct {
	mu sync.Mutex

	// ExchangeFunc overrides ExchangeCode.
	ExchangeFunc func(ctx context.Context, code, verifier string) (*oauth2.Token, error)

	// ValidateFunc overrides ValidateToken.
	ValidateFunc func(ctx context.Context, accessToken string) (*providers.UserInfo, error)

	// RefreshFunc overrides RefreshToken.
	RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// RevokedTokens records every token passed to RevokeToken.
	RevokedTokens []string

	// ExchangeCalls counts ExchangeCode invocations.
	ExchangeCalls int

	// AuthBaseURL is the fake upstream authorization endpoint.
	AuthBaseURL string
}

var _ providers.Provider = (*Provider)(nil)

// New returns a mock provider with working defaults.
func New() *Provider {
	return &Provider{AuthBaseURL: "https://idp.example.com/authorize"}
}

// Name returns "mock".
func (p *Provider) Name() string { return "mock" }

// AuthorizationURL builds a fake upstream URL carrying the state.
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string, scopes []string) string {
	v := url.Values{}
	v.Set("state", state)
	if codeChallenge != "" {
		v.Set("code_challenge", codeChallenge)
		v.Set("code_challenge_method", codeChallengeMethod)
	}
	return p.AuthBaseURL + "?" + v.Encode()
}

// ExchangeCode returns a static token unless ExchangeFunc is set.
func (p *Provider) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.ExchangeCalls++
	fn := p.ExchangeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, code, verifier)
	}
	return &oauth2.Token{AccessToken: "upstream-access-" + code, TokenType: "Bearer"}, nil
}

// ValidateToken returns a static user unless ValidateFunc is set.
func (p *Provider) ValidateToken(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	if p.ValidateFunc != nil {
		return p.ValidateFunc(ctx, accessToken)
	}
	return &providers.UserInfo{
		Subject: "user-1",
		Email:   "operator@example.com",
		Name:    "Test Operator",
	}, nil
}

// RefreshToken returns a fresh static token unless RefreshFunc is set.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.RefreshFunc != nil {
		return p.RefreshFunc(ctx, refreshToken)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token required")
	}
	return &oauth2.Token{
		AccessToken:  "upstream-refreshed-access",
		RefreshToken: "upstream-refreshed-refresh",
		TokenType:    "Bearer",
	}, nil
}

// RevokeToken records the token.
func (p *Provider) RevokeToken(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RevokedTokens = append(p.RevokedTokens, token)
	return nil
}

// HealthCheck always succeeds.
func (p *Provider) HealthCheck(context.Context) error { return nil }
