package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security events with hashed subject identifiers so audit
// trails never contain raw PII.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor. A disabled auditor is a no-op.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event is a single security audit record.
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent emits an audit record.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued records a successful token issuance.
func (a *Auditor) LogTokenIssued(subject, clientID, ip, scope string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"scope": scope},
	})
}

// LogTokenRefreshed records a refresh grant.
func (a *Auditor) LogTokenRefreshed(subject, clientID, ip string, rotated bool) {
	a.LogEvent(Event{
		Type:      "token_refreshed",
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"rotated": rotated},
	})
}

// LogAuthFailure records a rejected bearer token or client authentication.
func (a *Auditor) LogAuthFailure(subject, clientID, ip, reason string) {
	a.LogEvent(Event{
		Type:      "auth_failure",
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	})
}

// LogCodeReplay records a replayed authorization code. This is a strong
// signal of code theft; all tokens minted from the code are revoked.
func (a *Auditor) LogCodeReplay(subject, clientID, ip string) {
	a.LogEvent(Event{
		Type:      "authorization_code_replay",
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ip,
	})
}

// LogFlowFailure records a failed login flow (state mismatch, expiry,
// upstream rejection).
func (a *Auditor) LogFlowFailure(clientID, ip, reason string) {
	a.LogEvent(Event{
		Type:      "flow_failure",
		ClientID:  clientID,
		IPAddress: ip,
		Details:   map[string]any{"reason": reason},
	})
}

// LogClientRegistered records a dynamic client registration.
func (a *Auditor) LogClientRegistered(clientID, ip string) {
	a.LogEvent(Event{
		Type:      "client_registered",
		ClientID:  clientID,
		IPAddress: ip,
	})
}

// LogClientRevoked records a client revocation.
func (a *Auditor) LogClientRevoked(clientID, ip string) {
	a.LogEvent(Event{
		Type:      "client_revoked",
		ClientID:  clientID,
		IPAddress: ip,
	})
}

// LogRateLimitExceeded records a rate limit violation.
func (a *Auditor) LogRateLimitExceeded(ip, subject string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		Subject:   subject,
		IPAddress: ip,
	})
}

// hashForLogging returns a truncated SHA-256 of sensitive data.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
