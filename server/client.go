package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openc3/cosmos-mcp/storage"
)

// Supported token endpoint auth methods.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodNone              = "none"
)

// RegistrationRequest is a dynamic client registration attempt.
type RegistrationRequest struct {
	InitialAccessToken      string
	RedirectURIs            []string
	ClientName              string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
	IP                      string
}

// RegistrationResult is a completed registration. ClientSecret is present
// only when the registration was newly created; an idempotent replay of an
// already-completed registration returns the record without the secret.
type RegistrationResult struct {
	Client       *storage.Client
	ClientSecret string
	Replayed     bool
}

// deriveClientID derives the registration identifier deterministically from
// the initial access token and the canonical redirect URI set. A request
// retried after a crash re-derives the same identifier, which makes the
// consume-then-create pair idempotent without a client-supplied key.
func deriveClientID(initialAccessToken string, redirectURIs []string) string {
	canonical := append([]string(nil), redirectURIs...)
	sort.Strings(canonical)

	h := sha256.New()
	h.Write([]byte(initialAccessToken))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(canonical, "\n")))

	return "mcp-" + base64.RawURLEncoding.EncodeToString(h.Sum(nil))[:32]
}

// RegisterClient performs RFC 7591 dynamic client registration guarded by an
// initial access token.
//
// The token consume and the registration create are two storage calls keyed
// by the same derived identifier: a crash between them leaves the token
// consumed by an identifier that does not exist yet, and the retried request
// re-derives that identifier, passes the consume check idempotently, and
// completes the create.
func (s *Server) RegisterClient(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error) {
	if req == nil {
		return nil, fmt.Errorf("registration request is required")
	}
	if req.InitialAccessToken == "" {
		return nil, fmt.Errorf("%w: missing initial access token", ErrRegistrationTokenInvalid)
	}

	if err := s.validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, err
	}

	if err := s.store.CheckIPLimit(ctx, req.IP, s.Config.MaxClientsPerIP); err != nil {
		return nil, fmt.Errorf("registration limit: %w", err)
	}

	clientID := deriveClientID(req.InitialAccessToken, req.RedirectURIs)

	if err := s.store.ConsumeInitialAccessToken(ctx, req.InitialAccessToken, clientID); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, req.IP, "initial access token rejected")
		}
		switch {
		case errors.Is(err, storage.ErrInitialTokenNotFound),
			errors.Is(err, storage.ErrInitialTokenExpired),
			errors.Is(err, storage.ErrInitialTokenConsumed):
			return nil, fmt.Errorf("%w: %v", ErrRegistrationTokenInvalid, err)
		default:
			return nil, err
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodClientSecretBasic
	}
	switch authMethod {
	case AuthMethodClientSecretBasic, AuthMethodClientSecretPost, AuthMethodNone:
	default:
		return nil, fmt.Errorf("unsupported token_endpoint_auth_method %q", authMethod)
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	var secret string
	var secretHash []byte
	if authMethod != AuthMethodNone {
		secret = generateToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = hash
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        secretHash,
		RedirectURIs:            append([]string(nil), req.RedirectURIs...),
		ClientName:              req.ClientName,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		Scopes:                  strings.Fields(req.Scope),
		CreatedAt:               time.Now(),
		RegistrationIP:          req.IP,
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrClientExists) {
			// The consume already admitted this identifier, so this is a
			// replay of a completed registration. Return the stored record;
			// the secret was released once and cannot be recovered.
			existing, getErr := s.store.GetClient(ctx, clientID)
			if getErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrDuplicateIdentifier, getErr)
			}
			return &RegistrationResult{Client: existing, Replayed: true}, nil
		}
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(clientID, req.IP)
	}
	s.Logger.Info("Registered client",
		"client_id", clientID,
		"client_name", req.ClientName,
		"redirect_uris", len(req.RedirectURIs))

	return &RegistrationResult{Client: client, ClientSecret: secret}, nil
}

// RegisterStaticClient pre-provisions a client registration from
// configuration, bypassing the initial-access-token gate. Used in static
// mode at startup.
func (s *Server) RegisterStaticClient(ctx context.Context, clientID, clientSecret string, redirectURIs []string) (*storage.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if err := s.validateRedirectURIs(redirectURIs); err != nil {
		return nil, err
	}

	var secretHash []byte
	authMethod := AuthMethodNone
	if clientSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretHash = hash
		authMethod = AuthMethodClientSecretBasic
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        secretHash,
		RedirectURIs:            append([]string(nil), redirectURIs...),
		ClientName:              "static client",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               time.Now(),
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrClientExists) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, clientID)
		}
		return nil, err
	}
	return client, nil
}

// AuthenticateClient verifies client credentials at the token endpoint.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", ErrInvalidClient)
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrClientRevoked):
			return nil, fmt.Errorf("%w: %s", ErrClientRevoked, clientID)
		case errors.Is(err, storage.ErrClientNotFound):
			return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
		default:
			return nil, err
		}
	}

	if client.TokenEndpointAuthMethod == AuthMethodNone {
		if clientSecret != "" {
			return nil, fmt.Errorf("%w: public client must not send a secret", ErrInvalidClient)
		}
		return client, nil
	}

	if err := bcrypt.CompareHashAndPassword(client.ClientSecretHash, []byte(clientSecret)); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "client secret mismatch")
		}
		return nil, fmt.Errorf("%w: bad credentials", ErrInvalidClient)
	}
	return client, nil
}

// LookupClient returns a registration by identifier.
func (s *Server) LookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrClientRevoked):
			return nil, fmt.Errorf("%w: %s", ErrClientRevoked, clientID)
		case errors.Is(err, storage.ErrClientNotFound):
			return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
		default:
			return nil, err
		}
	}
	return client, nil
}

// RevokeClient marks a registration inert.
func (s *Server) RevokeClient(ctx context.Context, clientID, ip string) error {
	if err := s.store.RevokeClient(ctx, clientID); err != nil {
		return err
	}
	if s.Auditor != nil {
		s.Auditor.LogClientRevoked(clientID, ip)
	}
	return nil
}

// ProvisionInitialAccessToken installs the configured DCR credential at
// startup.
func (s *Server) ProvisionInitialAccessToken(ctx context.Context, token string, ttl time.Duration, multiUse bool) error {
	if token == "" {
		return fmt.Errorf("initial access token is required")
	}

	record := &storage.InitialAccessToken{
		Token:     token,
		MultiUse:  multiUse,
		CreatedAt: time.Now(),
	}
	if ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(ttl)
	}
	return s.store.SaveInitialAccessToken(ctx, record)
}
