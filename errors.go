package gateway

import (
	"fmt"
	"net/http"
)

// Wire-level error codes (RFC 6749 §5.2, RFC 6750 §3.1, RFC 7591 §3.2.2).
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata   = "invalid_client_metadata"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
)

// Failure classifies a gateway error into the internal failure taxonomy.
// The wire code is what clients see; the failure is what operators and tests
// reason about.
type Failure string

// Token verification failures.
const (
	FailureMalformed        Failure = "MALFORMED"
	FailureSignatureInvalid Failure = "SIGNATURE_INVALID"
	FailureExpired          Failure = "EXPIRED"
	FailureAudienceMismatch Failure = "AUDIENCE_MISMATCH"
	FailureIssuerUntrusted  Failure = "ISSUER_UNTRUSTED"
	FailureRevoked          Failure = "REVOKED"
)

// Registration failures.
const (
	FailureTokenInvalid        Failure = "TOKEN_INVALID"
	FailureRedirectURIRejected Failure = "REDIRECT_URI_REJECTED"
	FailureDuplicateIdentifier Failure = "DUPLICATE_IDENTIFIER"
)

// Authorization flow failures.
const (
	FailureStateMismatch       Failure = "STATE_MISMATCH"
	FailureStateExpired        Failure = "STATE_EXPIRED"
	FailureUpstreamRejected    Failure = "UPSTREAM_REJECTED"
	FailureUpstreamUnreachable Failure = "UPSTREAM_UNREACHABLE"
)

// AuthError is an OAuth 2.0 error response carrying both the wire code and
// the internal failure classification.
type AuthError struct {
	Code        string  // wire error code (e.g. "invalid_grant")
	Failure     Failure // taxonomy classification, empty for generic errors
	Description string  // human-readable description, safe for callers
	Status      int     // HTTP status code
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is reports whether target is an AuthError with the same failure
// classification. Wire codes are compared only when no failure is set.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	if e.Failure != "" || t.Failure != "" {
		return e.Failure == t.Failure
	}
	return e.Code == t.Code
}

// NewAuthError creates a new gateway error with an explicit failure class
func NewAuthError(code string, failure Failure, description string, status int) *AuthError {
	return &AuthError{
		Code:        code,
		Failure:     failure,
		Description: description,
		Status:      status,
	}
}

// Generic wire errors without a taxonomy classification.
var (
	ErrInvalidRequest = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidRequest, "", desc, http.StatusBadRequest)
	}

	ErrInvalidGrant = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidGrant, "", desc, http.StatusBadRequest)
	}

	ErrInvalidClient = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidClient, "", desc, http.StatusUnauthorized)
	}

	ErrInvalidScope = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidScope, "", desc, http.StatusBadRequest)
	}

	ErrUnsupportedGrantType = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeUnsupportedGrantType, "", desc, http.StatusBadRequest)
	}

	ErrServerError = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeServerError, "", desc, http.StatusInternalServerError)
	}

	ErrAccessDenied = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeAccessDenied, "", desc, http.StatusForbidden)
	}

	ErrRateLimitExceeded = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeRateLimitExceeded, "", desc, http.StatusTooManyRequests)
	}
)

// Token verification errors (§ bearer-token gate). All map to invalid_token
// on the wire per RFC 6750.
var (
	ErrTokenMalformed = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, FailureMalformed, desc, http.StatusUnauthorized)
	}

	ErrTokenSignatureInvalid = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, FailureSignatureInvalid, desc, http.StatusUnauthorized)
	}

	ErrTokenExpired = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, FailureExpired, desc, http.StatusUnauthorized)
	}

	ErrAudienceMismatch = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, FailureAudienceMismatch, desc, http.StatusUnauthorized)
	}

	ErrIssuerUntrusted = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, FailureIssuerUntrusted, desc, http.StatusUnauthorized)
	}

	ErrClientRevoked = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidClient, FailureRevoked, desc, http.StatusUnauthorized)
	}
)

// Registration errors (RFC 7591 surface).
var (
	ErrRegistrationTokenInvalid = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidToken, FailureTokenInvalid, desc, http.StatusUnauthorized)
	}

	ErrRedirectURIRejected = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidRedirectURI, FailureRedirectURIRejected, desc, http.StatusBadRequest)
	}

	ErrDuplicateIdentifier = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidClientMetadata, FailureDuplicateIdentifier, desc, http.StatusConflict)
	}
)

// Authorization flow errors.
var (
	ErrStateMismatch = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidRequest, FailureStateMismatch, desc, http.StatusBadRequest)
	}

	ErrStateExpired = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidRequest, FailureStateExpired, desc, http.StatusBadRequest)
	}

	ErrUpstreamRejected = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeInvalidGrant, FailureUpstreamRejected, desc, http.StatusBadGateway)
	}

	ErrUpstreamUnreachable = func(desc string) *AuthError {
		return NewAuthError(ErrorCodeTemporarilyUnavailable, FailureUpstreamUnreachable, desc, http.StatusServiceUnavailable)
	}
)
