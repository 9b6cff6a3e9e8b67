// Package memory provides an in-memory implementation of all storage
// interfaces. Suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openc3/cosmos-mcp/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	clients      map[string]*storage.Client
	clientsPerIP map[string]int

	authStates          map[string]*storage.AuthorizationState
	statesByProvider    map[string]string // provider state -> state ID
	authCodes           map[string]*storage.AuthorizationCode
	accessTokens        map[string]*storage.Grant
	refreshTokens       map[string]*storage.Grant
	initialAccessTokens map[string]*storage.InitialAccessToken

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. Non-positive intervals fall back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:             make(map[string]*storage.Client),
		clientsPerIP:        make(map[string]int),
		authStates:          make(map[string]*storage.AuthorizationState),
		statesByProvider:    make(map[string]string),
		authCodes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:        make(map[string]*storage.Grant),
		refreshTokens:       make(map[string]*storage.Grant),
		initialAccessTokens: make(map[string]*storage.InitialAccessToken),
		cleanupInterval:     cleanupInterval,
		stopCleanup:         make(chan struct{}),
		logger:              slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the background cleanup goroutine. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient stores a new client registration.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with non-empty ClientID required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return storage.ErrClientExists
	}

	cp := *client
	s.clients[client.ClientID] = &cp
	if client.RegistrationIP != "" {
		s.clientsPerIP[client.RegistrationIP]++
	}

	s.logger.Debug("Saved client registration", "client_id", client.ClientID)
	return nil
}

// GetClient returns a client registration by identifier.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	if client.Revoked {
		return nil, storage.ErrClientRevoked
	}

	cp := *client
	return &cp, nil
}

// RevokeClient marks a registration inert. Idempotent.
func (s *Store) RevokeClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return storage.ErrClientNotFound
	}
	if !client.Revoked {
		client.Revoked = true
		client.RevokedAt = time.Now()
		s.logger.Info("Revoked client registration", "client_id", clientID)
	}
	return nil
}

// CheckIPLimit enforces the per-IP registration cap.
func (s *Store) CheckIPLimit(_ context.Context, ip string, max int) error {
	if max <= 0 || ip == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientsPerIP[ip] >= max {
		return storage.ErrRegistrationLimit
	}
	return nil
}

// ============================================================
// FlowStore
// ============================================================

// SaveAuthorizationState stores a login attempt record.
func (s *Store) SaveAuthorizationState(_ context.Context, state *storage.AuthorizationState) error {
	if state == nil || state.StateID == "" || state.ProviderState == "" {
		return fmt.Errorf("state with StateID and ProviderState required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.authStates[state.StateID] = &cp
	s.statesByProvider[state.ProviderState] = state.StateID
	return nil
}

// GetAuthorizationStateByProviderState looks up a login attempt by the state
// value echoed back from the upstream provider.
func (s *Store) GetAuthorizationStateByProviderState(_ context.Context, providerState string) (*storage.AuthorizationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateID, ok := s.statesByProvider[providerState]
	if !ok {
		return nil, storage.ErrStateNotFound
	}
	state, ok := s.authStates[stateID]
	if !ok {
		return nil, storage.ErrStateNotFound
	}

	cp := *state
	return &cp, nil
}

// DeleteAuthorizationState removes a login attempt record. Idempotent.
func (s *Store) DeleteAuthorizationState(_ context.Context, stateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.authStates[stateID]; ok {
		delete(s.statesByProvider, state.ProviderState)
		delete(s.authStates, stateID)
	}
	return nil
}

// SaveAuthorizationCode stores a gateway-issued authorization code.
func (s *Store) SaveAuthorizationCode(_ context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	s.authCodes[code.Code] = &cp
	return nil
}

// ConsumeAuthorizationCode atomically marks a code used and returns it.
// The check-and-mark happens under one lock so concurrent exchange attempts
// resolve to exactly one winner.
func (s *Store) ConsumeAuthorizationCode(_ context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	if record.Used {
		cp := *record
		return &cp, storage.ErrCodeAlreadyUsed
	}
	record.Used = true

	cp := *record
	// The retained record only serves replay detection; it must not keep the
	// provider credential alive.
	record.Upstream = nil
	return &cp, nil
}

// DeleteAuthorizationCode removes a code record. Idempotent.
func (s *Store) DeleteAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authCodes, code)
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken binds a gateway access token to its grant.
func (s *Store) SaveAccessToken(_ context.Context, accessToken string, grant *storage.Grant) error {
	if accessToken == "" || grant == nil {
		return fmt.Errorf("access token and grant required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *grant
	s.accessTokens[accessToken] = &cp
	return nil
}

// GetAccessToken resolves a gateway access token to its grant.
func (s *Store) GetAccessToken(_ context.Context, accessToken string) (*storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.accessTokens[accessToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if !grant.ExpiresAt.IsZero() && time.Now().After(grant.ExpiresAt) {
		return nil, storage.ErrTokenExpired
	}

	cp := *grant
	return &cp, nil
}

// SaveRefreshToken stores a refresh token for later rotation.
func (s *Store) SaveRefreshToken(_ context.Context, refreshToken string, grant *storage.Grant) error {
	if refreshToken == "" || grant == nil {
		return fmt.Errorf("refresh token and grant required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *grant
	s.refreshTokens[refreshToken] = &cp
	return nil
}

// ConsumeRefreshToken atomically looks up and deletes a refresh token.
func (s *Store) ConsumeRefreshToken(_ context.Context, refreshToken string) (*storage.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.refreshTokens[refreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	delete(s.refreshTokens, refreshToken)

	if !grant.ExpiresAt.IsZero() && time.Now().After(grant.ExpiresAt) {
		return nil, storage.ErrTokenExpired
	}

	cp := *grant
	return &cp, nil
}

// RevokeTokens deletes all tokens for a (subject, client) pair.
func (s *Store) RevokeTokens(_ context.Context, subject, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, grant := range s.accessTokens {
		if grant.Subject == subject && grant.ClientID == clientID {
			delete(s.accessTokens, token)
			removed++
		}
	}
	for token, grant := range s.refreshTokens {
		if grant.Subject == subject && grant.ClientID == clientID {
			delete(s.refreshTokens, token)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Warn("Revoked all tokens for subject and client",
			"subject", subject,
			"client_id", clientID,
			"tokens_removed", removed)
	}
	return nil
}

// ============================================================
// InitialAccessTokenStore
// ============================================================

// SaveInitialAccessToken stores a registration credential.
func (s *Store) SaveInitialAccessToken(_ context.Context, token *storage.InitialAccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("initial access token required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *token
	s.initialAccessTokens[token.Token] = &cp
	return nil
}

// ConsumeInitialAccessToken atomically validates and consumes the token on
// behalf of clientID. Consumption and the caller's registration share the
// store lock ordering: the handler derives the client ID deterministically
// before calling, so a crashed-and-retried registration passes the same
// clientID and succeeds idempotently.
func (s *Store) ConsumeInitialAccessToken(_ context.Context, token, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.initialAccessTokens[token]
	if !ok {
		return storage.ErrInitialTokenNotFound
	}
	if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
		return storage.ErrInitialTokenExpired
	}
	if record.MultiUse {
		return nil
	}
	if record.Consumed {
		if record.ConsumedBy == clientID {
			return nil
		}
		return storage.ErrInitialTokenConsumed
	}

	record.Consumed = true
	record.ConsumedBy = clientID
	record.ConsumedAt = time.Now()
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired sweeps expired flow state, codes, and tokens.
func (s *Store) cleanupExpired() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, state := range s.authStates {
		if now.After(state.ExpiresAt) {
			delete(s.statesByProvider, state.ProviderState)
			delete(s.authStates, id)
			removed++
		}
	}
	for code, record := range s.authCodes {
		if now.After(record.ExpiresAt) {
			delete(s.authCodes, code)
			removed++
		}
	}
	for token, grant := range s.accessTokens {
		if !grant.ExpiresAt.IsZero() && now.After(grant.ExpiresAt) {
			delete(s.accessTokens, token)
			removed++
		}
	}
	for token, grant := range s.refreshTokens {
		if !grant.ExpiresAt.IsZero() && now.After(grant.ExpiresAt) {
			delete(s.refreshTokens, token)
			removed++
		}
	}
	for value, token := range s.initialAccessTokens {
		if !token.ExpiresAt.IsZero() && now.After(token.ExpiresAt) {
			delete(s.initialAccessTokens, value)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Swept expired records", "removed", removed)
	}
}
