package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys. These name metadata only; actual credential
// values (tokens, codes, secrets) must never be attached to spans.
const (
	// OAuth flow attributes
	AttrClientID   = "oauth.client_id"
	AttrSubject    = "oauth.subject"
	AttrScope      = "oauth.scope"
	AttrGrantType  = "oauth.grant_type"
	AttrPKCEMethod = "oauth.pkce.method"
	AttrError      = "oauth.error"

	// Authentication attributes
	AttrAuthMode    = "auth.mode"
	AttrAuthFailure = "auth.failure"

	// COSMOS API attributes
	AttrCosmosMethod = "cosmos.api_method"
	AttrCosmosScope  = "cosmos.scope"
	AttrTarget       = "cosmos.target"
	AttrPacket       = "cosmos.packet"

	// MCP tool attributes
	AttrToolName = "mcp.tool"

	// HTTP attributes beyond the standard semantic conventions
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFlowAttributes adds common OAuth flow attributes to a span (nil-safe).
func AddFlowAttributes(span trace.Span, clientID, subject, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if subject != "" {
		SetSpanAttributes(span, attribute.String(AttrSubject, subject))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddCosmosAttributes adds COSMOS API call attributes to a span (nil-safe).
func AddCosmosAttributes(span trace.Span, method, scope string) {
	SetSpanAttributes(span,
		attribute.String(AttrCosmosMethod, method),
		attribute.String(AttrCosmosScope, scope),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
