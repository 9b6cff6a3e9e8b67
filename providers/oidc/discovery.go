// Package oidc implements OpenID Connect discovery with endpoint validation
// and caching.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DiscoveryDocument is the provider metadata published at
// /.well-known/openid-configuration (RFC 8414 / OIDC Discovery).
type DiscoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserInfoEndpoint              string   `json:"userinfo_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint,omitempty"`
	EndSessionEndpoint            string   `json:"end_session_endpoint,omitempty"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	JWKSUri                       string   `json:"jwks_uri"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

type cachedDocument struct {
	document  *DiscoveryDocument
	fetchedAt time.Time
}

// DiscoveryClient fetches and caches OIDC discovery documents. Endpoints are
// required to use HTTPS unless the client was created with allowInsecure,
// which exists for development deployments where Keycloak runs on plain HTTP.
//
// The client is safe for concurrent use.
type DiscoveryClient struct {
	httpClient    *http.Client
	cache         sync.Map // issuerURL -> *cachedDocument
	cacheTTL      time.Duration
	logger        *slog.Logger
	allowInsecure bool
}

// NewDiscoveryClient creates a discovery client. A nil httpClient gets a 10s
// timeout; a zero cacheTTL defaults to one hour.
func NewDiscoveryClient(httpClient *http.Client, cacheTTL time.Duration, logger *slog.Logger, allowInsecure bool) *DiscoveryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheTTL == 0 {
		cacheTTL = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DiscoveryClient{
		httpClient:    httpClient,
		cacheTTL:      cacheTTL,
		logger:        logger,
		allowInsecure: allowInsecure,
	}
}

// Discover fetches the discovery document for an issuer, serving cached
// copies within the TTL.
func (c *DiscoveryClient) Discover(ctx context.Context, issuerURL string) (*DiscoveryDocument, error) {
	if err := c.validateIssuerURL(issuerURL); err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	if cached, ok := c.cache.Load(issuerURL); ok {
		doc := cached.(*cachedDocument)
		if time.Since(doc.fetchedAt) < c.cacheTTL {
			c.logger.Debug("Discovery cache hit", "issuer", issuerURL)
			return doc.document, nil
		}
	}

	discoveryURL := strings.TrimSuffix(issuerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed with status %d", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if err := c.validateDocument(&doc); err != nil {
		return nil, fmt.Errorf("invalid discovery document: %w", err)
	}

	c.cache.Store(issuerURL, &cachedDocument{
		document:  &doc,
		fetchedAt: time.Now(),
	})

	c.logger.Info("OIDC discovery successful",
		"issuer", issuerURL,
		"authorization_endpoint", doc.AuthorizationEndpoint,
		"token_endpoint", doc.TokenEndpoint)

	return &doc, nil
}

// validateIssuerURL rejects issuer URLs that could redirect discovery to an
// attacker-controlled or internal endpoint.
func (c *DiscoveryClient) validateIssuerURL(issuerURL string) error {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("query and fragment not allowed")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.allowInsecure {
			return nil
		}
		return fmt.Errorf("issuer must use HTTPS: %s", issuerURL)
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// validateDocument enforces transport security on every discovered endpoint.
func (c *DiscoveryClient) validateDocument(doc *DiscoveryDocument) error {
	required := []struct {
		name string
		url  string
	}{
		{"issuer", doc.Issuer},
		{"authorization_endpoint", doc.AuthorizationEndpoint},
		{"token_endpoint", doc.TokenEndpoint},
		{"jwks_uri", doc.JWKSUri},
	}
	for _, ep := range required {
		if ep.url == "" {
			return fmt.Errorf("%s is required but missing", ep.name)
		}
		if err := c.checkEndpointScheme(ep.name, ep.url); err != nil {
			return err
		}
	}

	optional := []struct {
		name string
		url  string
	}{
		{"userinfo_endpoint", doc.UserInfoEndpoint},
		{"revocation_endpoint", doc.RevocationEndpoint},
		{"end_session_endpoint", doc.EndSessionEndpoint},
		{"registration_endpoint", doc.RegistrationEndpoint},
	}
	for _, ep := range optional {
		if ep.url == "" {
			continue
		}
		if err := c.checkEndpointScheme(ep.name, ep.url); err != nil {
			return err
		}
	}

	return nil
}

func (c *DiscoveryClient) checkEndpointScheme(name, endpoint string) error {
	if strings.HasPrefix(endpoint, "https://") {
		return nil
	}
	if c.allowInsecure && strings.HasPrefix(endpoint, "http://") {
		return nil
	}
	return fmt.Errorf("%s must use HTTPS: %s", name, endpoint)
}

// ClearCache drops all cached documents, forcing a refetch on next Discover.
func (c *DiscoveryClient) ClearCache() {
	c.cache.Range(func(key, _ any) bool {
		c.cache.Delete(key)
		return true
	})
}
