package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway's metric instruments.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authentication
	AuthAttemptsTotal metric.Int64Counter
	AuthFailuresTotal metric.Int64Counter

	// OAuth flows
	AuthorizationStarted metric.Int64Counter
	CallbackProcessed    metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	ClientRegistered     metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	// Downstream COSMOS API
	CosmosCallsTotal   metric.Int64Counter
	CosmosCallDuration metric.Float64Histogram
	CosmosCallErrors   metric.Int64Counter

	// MCP tool layer
	ToolCallsTotal   metric.Int64Counter
	ToolCallDuration metric.Float64Histogram
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	httpMeter := inst.Meter("http")
	authMeter := inst.Meter("auth")
	serverMeter := inst.Meter("server")
	cosmosMeter := inst.Meter("cosmos")
	toolsMeter := inst.Meter("tools")

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"gateway.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"gateway.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.AuthAttemptsTotal, err = authMeter.Int64Counter(
		"gateway.auth.attempts.total",
		metric.WithDescription("Total number of bearer token verifications"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.attempts.total counter: %w", err)
	}

	m.AuthFailuresTotal, err = authMeter.Int64Counter(
		"gateway.auth.failures.total",
		metric.WithDescription("Token verifications rejected, by failure kind"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures.total counter: %w", err)
	}

	m.AuthorizationStarted, err = serverMeter.Int64Counter(
		"gateway.oauth.authorization.started",
		metric.WithDescription("Authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.CallbackProcessed, err = serverMeter.Int64Counter(
		"gateway.oauth.callback.processed",
		metric.WithDescription("Provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.CodeExchanged, err = serverMeter.Int64Counter(
		"gateway.oauth.code.exchanged",
		metric.WithDescription("Authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"gateway.oauth.token.refreshed",
		metric.WithDescription("Tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.ClientRegistered, err = serverMeter.Int64Counter(
		"gateway.oauth.client.registered",
		metric.WithDescription("Clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.CodeReuseDetected, err = serverMeter.Int64Counter(
		"gateway.oauth.code.reuse_detected",
		metric.WithDescription("Authorization code reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	m.RateLimitExceeded, err = serverMeter.Int64Counter(
		"gateway.rate_limit.exceeded",
		metric.WithDescription("Rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.CosmosCallsTotal, err = cosmosMeter.Int64Counter(
		"cosmos.api.calls.total",
		metric.WithDescription("Total number of COSMOS API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos.api.calls.total counter: %w", err)
	}

	m.CosmosCallDuration, err = cosmosMeter.Float64Histogram(
		"cosmos.api.call.duration",
		metric.WithDescription("COSMOS API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos.api.call.duration histogram: %w", err)
	}

	m.CosmosCallErrors, err = cosmosMeter.Int64Counter(
		"cosmos.api.errors.total",
		metric.WithDescription("COSMOS API call failures, by failure kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos.api.errors.total counter: %w", err)
	}

	m.ToolCallsTotal, err = toolsMeter.Int64Counter(
		"mcp.tool.calls.total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp.tool.calls.total counter: %w", err)
	}

	m.ToolCallDuration, err = toolsMeter.Float64Histogram(
		"mcp.tool.call.duration",
		metric.WithDescription("MCP tool invocation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp.tool.call.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuthAttempt records a bearer token verification and its outcome.
// failure is empty on success.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, failure string) {
	m.AuthAttemptsTotal.Add(ctx, 1)
	if failure != "" {
		m.AuthFailuresTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("failure", failure),
		))
	}
}

// RecordAuthorizationStarted records an authorization flow start.
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCallbackProcessed records a provider callback.
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenRefresh records a refresh grant.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordClientRegistration records a dynamic registration.
func (m *Metrics) RecordClientRegistration(ctx context.Context) {
	m.ClientRegistered.Add(ctx, 1)
}

// RecordCodeReuseDetected records an authorization code replay.
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordCosmosCall records one COSMOS API call. failure is empty on success.
func (m *Metrics) RecordCosmosCall(ctx context.Context, method string, durationMs float64, failure string) {
	m.CosmosCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("api_method", method),
	))
	m.CosmosCallDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("api_method", method),
	))
	if failure != "" {
		m.CosmosCallErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("api_method", method),
			attribute.String("failure", failure),
		))
	}
}

// RecordToolCall records one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, durationMs float64, isError bool) {
	m.ToolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", isError),
	))
	m.ToolCallDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("tool", tool),
	))
}
