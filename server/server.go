// Package server implements the authorization server core: the login flow
// state machine, the client registry, and dynamic client registration. It is
// transport-agnostic; the HTTP surface lives in the root package.
package server

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/openc3/cosmos-mcp/providers"
	"github.com/openc3/cosmos-mcp/security"
	"github.com/openc3/cosmos-mcp/storage"
)

// Typed failures surfaced by the flow and registration operations. The HTTP
// layer maps these onto wire error codes; tests assert on them directly.
var (
	// ErrStateMismatch: the callback state matches no pending login attempt.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrStateExpired: the login attempt exists but its window has passed.
	ErrStateExpired = errors.New("state expired")

	// ErrUpstreamRejected: the identity provider refused the code exchange.
	ErrUpstreamRejected = errors.New("upstream rejected")

	// ErrUpstreamUnreachable: the identity provider could not be reached.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrRegistrationTokenInvalid: the initial access token is unknown,
	// expired, or already consumed.
	ErrRegistrationTokenInvalid = errors.New("initial access token invalid")

	// ErrRedirectURIRejected: a requested redirect URI failed validation.
	ErrRedirectURIRejected = errors.New("redirect URI rejected")

	// ErrDuplicateIdentifier: the registry already holds the identifier.
	ErrDuplicateIdentifier = errors.New("duplicate client identifier")

	// ErrInvalidGrant is the deliberately generic token endpoint failure
	// (RFC 6749 §5.2 advises against disclosing which check failed).
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidClient: client authentication failed.
	ErrInvalidClient = errors.New("invalid client")

	// ErrClientRevoked: the client registration has been revoked.
	ErrClientRevoked = errors.New("client revoked")
)

// Server is the authorization server core.
type Server struct {
	provider providers.Provider
	store    storage.Store

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config
}

// New creates an authorization server. All collaborators are required except
// the auditor.
func New(provider providers.Provider, store storage.Store, auditor *security.Auditor, logger *slog.Logger, config *Config) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		provider: provider,
		store:    store,
		Auditor:  auditor,
		Logger:   logger,
		Config:   applySecureDefaults(config, logger),
	}, nil
}

// Provider exposes the upstream identity provider (for health checks).
func (s *Server) Provider() providers.Provider {
	return s.provider
}

// Store exposes the backing store (for provisioning initial access tokens).
func (s *Server) Store() storage.Store {
	return s.store
}

// generateToken returns a high-entropy URL-safe random string. The same
// generator backs client identifiers, state values, codes, and tokens.
func generateToken() string {
	return oauth2.GenerateVerifier()
}
