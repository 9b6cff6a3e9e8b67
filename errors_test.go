package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthErrorMessage(t *testing.T) {
	err := ErrTokenExpired("token is expired")
	assert.Equal(t, "invalid_token: token is expired", err.Error())
	assert.Equal(t, http.StatusUnauthorized, err.Status)
	assert.Equal(t, FailureExpired, err.Failure)
}

func TestAuthErrorIsMatchesFailure(t *testing.T) {
	// Same failure class matches regardless of description.
	assert.ErrorIs(t, ErrTokenExpired("a"), ErrTokenExpired("b"))
	assert.NotErrorIs(t, ErrTokenExpired("a"), ErrTokenMalformed("b"))

	// Both expired errors share a wire code but not a failure class with
	// a generic invalid_token error.
	generic := NewAuthError(ErrorCodeInvalidToken, "", "nope", http.StatusUnauthorized)
	assert.NotErrorIs(t, ErrTokenExpired("a"), generic)
}

func TestAuthErrorIsMatchesCodeWithoutFailure(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidRequest("a"), ErrInvalidRequest("b"))
	assert.NotErrorIs(t, ErrInvalidRequest("a"), ErrInvalidGrant("b"))
	assert.NotErrorIs(t, ErrInvalidRequest("a"), errors.New("invalid_request"))
}

func TestAuthErrorSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", ErrStateMismatch("no pending attempt"))

	var authErr *AuthError
	assert.ErrorAs(t, wrapped, &authErr)
	assert.Equal(t, FailureStateMismatch, authErr.Failure)
}

func TestFailureTaxonomyStatuses(t *testing.T) {
	cases := []struct {
		err    *AuthError
		status int
	}{
		{ErrTokenMalformed(""), http.StatusUnauthorized},
		{ErrTokenSignatureInvalid(""), http.StatusUnauthorized},
		{ErrAudienceMismatch(""), http.StatusUnauthorized},
		{ErrIssuerUntrusted(""), http.StatusUnauthorized},
		{ErrClientRevoked(""), http.StatusUnauthorized},
		{ErrRegistrationTokenInvalid(""), http.StatusUnauthorized},
		{ErrRedirectURIRejected(""), http.StatusBadRequest},
		{ErrDuplicateIdentifier(""), http.StatusConflict},
		{ErrStateMismatch(""), http.StatusBadRequest},
		{ErrStateExpired(""), http.StatusBadRequest},
		{ErrUpstreamRejected(""), http.StatusBadGateway},
		{ErrUpstreamUnreachable(""), http.StatusServiceUnavailable},
		{ErrRateLimitExceeded(""), http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.Status, "failure %s", tc.err.Failure)
	}
}
