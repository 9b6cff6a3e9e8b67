// Package auth verifies bearer tokens against the identity provider's
// published signing keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/openc3/cosmos-mcp/providers/oidc"
)

// Verification failures. Each maps onto one entry of the gateway's
// AuthFailure taxonomy.
var (
	ErrMalformed           = errors.New("token malformed")
	ErrSignatureInvalid    = errors.New("token signature invalid")
	ErrExpired             = errors.New("token expired")
	ErrAudienceMismatch    = errors.New("token audience mismatch")
	ErrIssuerUntrusted     = errors.New("token issuer untrusted")
	ErrUpstreamUnreachable = errors.New("identity provider unreachable")
)

// Claims is the verified content of a bearer token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Scopes    []string
	Email     string
	Name      string
}

// HasScope reports whether the token carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Config configures a Verifier.
type Config struct {
	// IssuerURL is the identity provider issuer. Used both for discovery of
	// the JWKS endpoint and for exact issuer matching.
	IssuerURL string

	// Audience is the expected token audience. Empty disables the check.
	Audience string

	// JWKSURL overrides discovery of the signing key endpoint.
	JWKSURL string

	// AllowInsecureIssuer permits a plain-http issuer. Development only.
	AllowInsecureIssuer bool

	// HTTPClient is used for discovery and key fetching.
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *slog.Logger
}

// Verifier validates JWT bearer tokens against a cached signer set. The
// signer-set cache is the only shared mutable state; jwk.Cache hands out
// consistent snapshots, so concurrent verifications never observe a
// half-updated key set.
type Verifier struct {
	issuer   string
	audience string

	httpClient *http.Client
	discovery  *oidc.DiscoveryClient
	cache      *jwk.Cache
	logger     *slog.Logger

	// Lazy JWKS resolution so startup does not depend on the provider
	// being reachable.
	mu         sync.Mutex
	jwksURL    string
	registered bool
}

// NewVerifier creates a token verifier for the given issuer.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.IssuerURL == "" && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("either IssuerURL or JWKSURL must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(cfg.HTTPClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer-set cache: %w", err)
	}

	return &Verifier{
		issuer:     cfg.IssuerURL,
		audience:   cfg.Audience,
		httpClient: cfg.HTTPClient,
		discovery:  oidc.NewDiscoveryClient(cfg.HTTPClient, 0, cfg.Logger, cfg.AllowInsecureIssuer),
		cache:      cache,
		logger:     cfg.Logger,
		jwksURL:    cfg.JWKSURL,
	}, nil
}

// ensureRegistered resolves the JWKS endpoint (via discovery if necessary)
// and registers it with the cache. Discovery failures are retried once with a
// short backoff before being surfaced. The mutex guards only the published
// fields; it is never held across the discovery or registration round trips,
// so a slow provider cannot stall concurrent verifications behind the lock.
func (v *Verifier) ensureRegistered(ctx context.Context) (string, error) {
	v.mu.Lock()
	registered, jwksURL := v.registered, v.jwksURL
	v.mu.Unlock()
	if registered {
		return jwksURL, nil
	}

	if jwksURL == "" {
		doc, err := v.discovery.Discover(ctx, v.issuer)
		if err != nil {
			// One retry with a short backoff tolerates transient provider
			// hiccups during key discovery.
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUpstreamUnreachable, ctx.Err())
			}
			doc, err = v.discovery.Discover(ctx, v.issuer)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
			}
		}
		jwksURL = doc.JWKSUri
	}

	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.cache.Register(regCtx, jwksURL); err != nil {
		// A concurrent first verification may have registered the endpoint
		// already; the set resolving means the cache is serving it.
		if _, lookupErr := v.cache.Lookup(regCtx, jwksURL); lookupErr != nil {
			return "", fmt.Errorf("%w: failed to register signer set: %v", ErrUpstreamUnreachable, err)
		}
	}

	v.mu.Lock()
	v.jwksURL = jwksURL
	v.registered = true
	v.mu.Unlock()

	v.logger.Debug("Registered signer set", "jwks_url", jwksURL)
	return jwksURL, nil
}

// keyFunc resolves the signing key for a token from the cached signer set.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		jwksURL, err := v.ensureRegistered(ctx)
		if err != nil {
			return nil, err
		}

		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: token header missing kid", ErrSignatureInvalid)
		}

		keySet, err := v.cache.Lookup(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("%w: signer-set lookup: %v", ErrUpstreamUnreachable, err)
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("%w: key %s not in signer set", ErrSignatureInvalid, kid)
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, fmt.Errorf("failed to export signing key: %w", err)
		}
		return raw, nil
	}
}

// refresh forces a signer-set refresh, tolerating key rotation at the
// provider.
func (v *Verifier) refresh(ctx context.Context) error {
	v.mu.Lock()
	url := v.jwksURL
	v.mu.Unlock()
	if url == "" {
		return nil
	}
	if _, err := v.cache.Refresh(ctx, url); err != nil {
		return fmt.Errorf("%w: signer-set refresh: %v", ErrUpstreamUnreachable, err)
	}
	return nil
}

// Verify validates a bearer token and returns its claims. On a signature
// failure it forces exactly one signer-set refresh and retries, so tokens
// signed with a freshly rotated key still verify; a second failure is final.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := v.parse(ctx, tokenString)
	if err == nil {
		return claims, nil
	}
	if !errors.Is(err, ErrSignatureInvalid) {
		return nil, err
	}

	if refreshErr := v.refresh(ctx); refreshErr != nil {
		v.logger.Warn("Signer-set refresh failed after signature failure", "error", refreshErr)
		return nil, err
	}

	v.logger.Debug("Retrying verification after signer-set refresh")
	return v.parse(ctx, tokenString)
}

// parse runs a single verification pass.
func (v *Verifier) parse(ctx context.Context, tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	)

	token, err := parser.Parse(tokenString, v.keyFunc(ctx))
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformed)
	}

	return v.validateClaims(mapClaims)
}

// classifyParseError maps golang-jwt errors onto the verification taxonomy.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUpstreamUnreachable):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// validateClaims checks issuer, audience, and expiry, then extracts the
// claim set.
func (v *Verifier) validateClaims(mapClaims jwt.MapClaims) (*Claims, error) {
	claims := &Claims{}

	if iss, err := mapClaims.GetIssuer(); err == nil {
		claims.Issuer = strings.TrimSpace(iss)
	}
	if v.issuer != "" && claims.Issuer != strings.TrimSpace(v.issuer) {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerUntrusted, claims.Issuer)
	}

	if aud, err := mapClaims.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if v.audience != "" {
		found := false
		for _, aud := range claims.Audience {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: want %q", ErrAudienceMismatch, v.audience)
		}
	}

	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrMalformed)
	}
	if exp.Before(time.Now()) {
		return nil, ErrExpired
	}
	claims.ExpiresAt = exp.Time

	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if scope, ok := mapClaims["scope"].(string); ok && scope != "" {
		claims.Scopes = strings.Fields(scope)
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	}

	return claims, nil
}
