// Package gateway is an MCP gateway for OpenC3 COSMOS: it exposes COSMOS
// commanding and telemetry as MCP tools behind an OAuth 2.1 authentication
// gate. The authentication strategy (none, static, dcr) is selected by
// configuration; there is a single serving path regardless of mode.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openc3/cosmos-mcp/auth"
	"github.com/openc3/cosmos-mcp/instrumentation"
	"github.com/openc3/cosmos-mcp/providers"
	"github.com/openc3/cosmos-mcp/providers/keycloak"
	"github.com/openc3/cosmos-mcp/security"
	"github.com/openc3/cosmos-mcp/server"
	"github.com/openc3/cosmos-mcp/storage/memory"
)

// Gateway bundles the authentication gate and the OAuth surface with their
// collaborators. Create one with New, mount it with RegisterRoutes and
// RequireAuth, and release resources with Close.
type Gateway struct {
	handler *Handler
	config  *Config

	store    *memory.Store
	authSrv  *server.Server
	verifier *auth.Verifier
	inst     *instrumentation.Instrumentation

	ipLimiter   *security.RateLimiter
	userLimiter *security.RateLimiter
}

// New creates a gateway from config. In static and dcr modes this reaches
// the identity provider for OIDC discovery, so it can fail on connectivity.
func New(ctx context.Context, cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "cosmos-mcp",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	g := &Gateway{
		config:      cfg,
		inst:        inst,
		ipLimiter:   security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.Logger),
		userLimiter: security.NewRateLimiter(cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst, cfg.Logger),
	}

	if cfg.Mode != AuthModeNone {
		if err := g.initAuth(ctx); err != nil {
			g.Close(ctx)
			return nil, err
		}
	}

	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}

	g.handler = &Handler{
		config:      cfg,
		authSrv:     g.authSrv,
		verifier:    g.verifier,
		ipLimiter:   g.ipLimiter,
		userLimiter: g.userLimiter,
		exempt:      exempt,
		tracer:      inst.Tracer("http"),
		metrics:     inst.Metrics(),
	}
	return g, nil
}

// initAuth wires the provider, verifier, store, and authorization server for
// static and dcr modes.
func (g *Gateway) initAuth(ctx context.Context) error {
	cfg := g.config

	g.store = memory.NewWithInterval(cfg.CleanupInterval)
	g.store.SetLogger(cfg.Logger)

	provider, err := keycloak.NewProvider(&keycloak.Config{
		IssuerURL:      cfg.Keycloak.Issuer(),
		ClientID:       cfg.Keycloak.ClientID,
		ClientSecret:   cfg.Keycloak.ClientSecret,
		RedirectURL:    cfg.Keycloak.RedirectURL,
		AllowInsecure:  cfg.Security.AllowInsecureIssuer,
		HTTPClient:     cfg.HTTPClient,
		RequestTimeout: cfg.Keycloak.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create keycloak provider: %w", err)
	}

	g.verifier, err = auth.NewVerifier(ctx, auth.Config{
		IssuerURL:           cfg.Keycloak.Issuer(),
		Audience:            cfg.Keycloak.Audience,
		AllowInsecureIssuer: cfg.Security.AllowInsecureIssuer,
		HTTPClient:          cfg.HTTPClient,
		Logger:              cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	auditor := security.NewAuditor(cfg.Logger, cfg.Security.EnableAuditLogging)
	g.authSrv, err = server.New(provider, g.store, auditor, cfg.Logger, &server.Config{
		Issuer:                    trimTrailingSlash(cfg.Resource),
		RequirePKCE:               true,
		RotateRefreshTokens:       !cfg.Security.DisableRefreshTokenRotation,
		MaxClientsPerIP:           cfg.Security.MaxClientsPerIP,
		SupportedScopes:           cfg.SupportedScopes,
		AllowInsecureRedirectURIs: cfg.Security.AllowInsecureRedirectURIs,
	})
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}

	switch cfg.Mode {
	case AuthModeStatic:
		_, err = g.authSrv.RegisterStaticClient(ctx,
			cfg.Keycloak.ClientID, cfg.Keycloak.ClientSecret,
			[]string{cfg.Keycloak.RedirectURL})
		if err != nil && !errors.Is(err, server.ErrDuplicateIdentifier) {
			return fmt.Errorf("failed to provision static client: %w", err)
		}
	case AuthModeDCR:
		if err := g.authSrv.ProvisionInitialAccessToken(ctx,
			cfg.Security.InitialAccessToken,
			cfg.Security.InitialAccessTokenTTL,
			cfg.Security.InitialAccessTokenMultiUse); err != nil {
			return fmt.Errorf("failed to provision initial access token: %w", err)
		}
	}
	return nil
}

// Handler returns the HTTP surface.
func (g *Gateway) Handler() *Handler {
	return g.handler
}

// Metrics returns the gateway's metric instruments so collaborators like the
// tool service can record into the same providers.
func (g *Gateway) Metrics() *instrumentation.Metrics {
	return g.inst.Metrics()
}

// Server returns the authorization server core, nil in none mode.
func (g *Gateway) Server() *server.Server {
	return g.authSrv
}

// Provider returns the upstream identity provider, nil in none mode.
func (g *Gateway) Provider() providers.Provider {
	if g.authSrv == nil {
		return nil
	}
	return g.authSrv.Provider()
}

// RegisterRoutes mounts the OAuth and metadata endpoints on mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	g.handler.RegisterRoutes(mux)
}

// RequireAuth wraps next behind the bearer-token gate.
func (g *Gateway) RequireAuth(next http.Handler) http.Handler {
	return g.handler.RequireAuth(next)
}

// Close releases background resources. Safe to call more than once.
func (g *Gateway) Close(ctx context.Context) {
	if g.store != nil {
		g.store.Stop()
	}
	g.ipLimiter.Stop()
	g.userLimiter.Stop()
	if g.inst != nil {
		_ = g.inst.Shutdown(ctx)
	}
}
