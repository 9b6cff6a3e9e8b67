package cosmos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies a downstream failure.
type Kind string

const (
	// KindTimeout: the API did not answer within the per-call deadline.
	KindTimeout Kind = "TIMEOUT"

	// KindConnectionError: the API could not be reached at all.
	KindConnectionError Kind = "CONNECTION_ERROR"

	// KindRemoteRejected: the API answered with a JSON-RPC error.
	KindRemoteRejected Kind = "REMOTE_REJECTED"
)

// Error is a failed COSMOS API call. It always wraps one call and carries
// enough context to be shown to an operator verbatim.
type Error struct {
	Kind    Kind
	Method  string
	Message string
	Code    int // JSON-RPC error code when Kind is REMOTE_REJECTED
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("cosmos %s failed (%s, code %d): %s", e.Method, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("cosmos %s failed (%s): %s", e.Method, e.Kind, e.Message)
}

// Is matches on the failure kind so callers can test
// errors.Is(err, &cosmos.Error{Kind: cosmos.KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// classifyTransportError maps a transport-level failure onto the taxonomy.
// Deadline expiry is a timeout; everything else on the way to the API is a
// connection error.
func classifyTransportError(method string, err error) *Error {
	kind := KindConnectionError

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	default:
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			kind = KindTimeout
		}
	}

	return &Error{
		Kind:    kind,
		Method:  method,
		Message: err.Error(),
	}
}
