// Package cosmos is the boundary to the OpenC3 COSMOS cmd-tlm-api. COSMOS is
// an opaque collaborator reached only through this JSON-RPC 2.0 client; no
// other package talks to it directly.
package cosmos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds each API call when the config does not override it.
const DefaultTimeout = 5 * time.Second

// Config configures a Client.
type Config struct {
	// APIURL is the cmd-tlm-api base URL (e.g. http://localhost:2900).
	APIURL string

	// Auth is the Authorization header value: the API password in password
	// mode, or a bearer token in Keycloak deployments.
	Auth string

	// Scope is the default COSMOS scope sent with every call (e.g. DEFAULT).
	Scope string

	// Timeout bounds each call. Default: DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport. Defaults to http.DefaultClient
	// with the configured timeout.
	HTTPClient *http.Client

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a JSON-RPC 2.0 client to the COSMOS cmd-tlm-api. Safe for
// concurrent use.
type Client struct {
	endpoint string
	auth     string
	scope    string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger

	nextID atomic.Int64
}

// NewClient creates a COSMOS API client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIURL == "" {
		return nil, fmt.Errorf("APIURL is required")
	}
	scope := cfg.Scope
	if scope == "" {
		scope = "DEFAULT"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.APIURL, "/") + "/openc3-api/api",
		auth:     cfg.Auth,
		scope:    scope,
		timeout:  timeout,
		http:     httpClient,
		logger:   logger,
	}, nil
}

// Scope returns the default COSMOS scope.
func (c *Client) Scope() string {
	return c.scope
}

type rpcRequest struct {
	JSONRPC       string         `json:"jsonrpc"`
	Method        string         `json:"method"`
	Params        []any          `json:"params"`
	KeywordParams map[string]any `json:"keyword_params,omitempty"`
	ID            int64          `json:"id"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int64           `json:"id"`
}

// Call performs one JSON-RPC call. kwargs may be nil; the configured scope is
// added unless the caller already set one. All failures come back as *Error.
func (c *Client) Call(ctx context.Context, method string, params []any, kwargs map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if _, ok := kwargs["scope"]; !ok {
		kwargs["scope"] = c.scope
	}

	body, err := json.Marshal(&rpcRequest{
		JSONRPC:       "2.0",
		Method:        method,
		Params:        params,
		KeywordParams: kwargs,
		ID:            c.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json-rpc")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		callErr := classifyTransportError(method, err)
		c.logger.Warn("COSMOS API call failed",
			"method", method,
			"kind", callErr.Kind,
			"duration", time.Since(start))
		return nil, callErr
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, classifyTransportError(method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The API wraps JSON-RPC errors in HTTP 4xx/5xx; try to surface the
		// JSON-RPC message before falling back to the status line.
		var rpcResp rpcResponse
		if jsonErr := json.Unmarshal(payload, &rpcResp); jsonErr == nil && rpcResp.Error != nil {
			return nil, &Error{
				Kind:    KindRemoteRejected,
				Method:  method,
				Message: rpcResp.Error.Message,
				Code:    rpcResp.Error.Code,
			}
		}
		return nil, &Error{
			Kind:    KindRemoteRejected,
			Method:  method,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))),
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, &Error{
			Kind:    KindRemoteRejected,
			Method:  method,
			Message: fmt.Sprintf("unparseable response: %v", err),
		}
	}
	if rpcResp.Error != nil {
		return nil, &Error{
			Kind:    KindRemoteRejected,
			Method:  method,
			Message: rpcResp.Error.Message,
			Code:    rpcResp.Error.Code,
		}
	}

	c.logger.Debug("COSMOS API call",
		"method", method,
		"duration", time.Since(start))
	return rpcResp.Result, nil
}

// call is Call with the result decoded into out. A nil out discards the
// result.
func (c *Client) call(ctx context.Context, method string, params []any, kwargs map[string]any, out any) error {
	result, err := c.Call(ctx, method, params, kwargs)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return &Error{
			Kind:    KindRemoteRejected,
			Method:  method,
			Message: fmt.Sprintf("unexpected result shape: %v", err),
		}
	}
	return nil
}

// scopeKwargs builds keyword params for an explicit scope override.
func scopeKwargs(scope string) map[string]any {
	if scope == "" {
		return nil
	}
	return map[string]any{"scope": scope}
}

// CmdOptions carries the optional knobs of a command send.
type CmdOptions struct {
	// Scope overrides the default COSMOS scope.
	Scope string

	// Timeout overrides the API-side command timeout in seconds.
	Timeout float64

	// LogMessage controls whether the API logs the command message.
	LogMessage *bool

	// Validate controls API-side command validation.
	Validate *bool

	// NoHazardousCheck sends the command without the hazardous prompt.
	NoHazardousCheck bool
}

func (o *CmdOptions) kwargs() map[string]any {
	kw := map[string]any{}
	if o == nil {
		return kw
	}
	if o.Scope != "" {
		kw["scope"] = o.Scope
	}
	if o.Timeout > 0 {
		kw["timeout"] = o.Timeout
	}
	if o.LogMessage != nil {
		kw["log_message"] = *o.LogMessage
	}
	if o.Validate != nil {
		kw["validate"] = *o.Validate
	}
	return kw
}

func (o *CmdOptions) method() string {
	if o != nil && o.NoHazardousCheck {
		return "cmd_no_hazardous_check"
	}
	return "cmd"
}

// Cmd sends a command by target, command name, and parameter map.
func (c *Client) Cmd(ctx context.Context, target, command string, params map[string]any, opts *CmdOptions) (json.RawMessage, error) {
	args := []any{target, command}
	if len(params) > 0 {
		args = append(args, params)
	}
	return c.Call(ctx, opts.method(), args, opts.kwargs())
}

// CmdString sends a command in string form, e.g.
// "INST COLLECT with TYPE NORMAL, DURATION 5".
func (c *Client) CmdString(ctx context.Context, commandString string, opts *CmdOptions) (json.RawMessage, error) {
	return c.Call(ctx, opts.method(), []any{commandString}, opts.kwargs())
}

// Tlm reads a telemetry item's converted value.
func (c *Client) Tlm(ctx context.Context, target, packet, item, scope string) (any, error) {
	return c.tlmVariant(ctx, "tlm", target, packet, item, scope)
}

// TlmRaw reads a telemetry item's raw value.
func (c *Client) TlmRaw(ctx context.Context, target, packet, item, scope string) (any, error) {
	return c.tlmVariant(ctx, "tlm_raw", target, packet, item, scope)
}

// TlmFormatted reads a telemetry item's formatted value.
func (c *Client) TlmFormatted(ctx context.Context, target, packet, item, scope string) (any, error) {
	return c.tlmVariant(ctx, "tlm_formatted", target, packet, item, scope)
}

// TlmWithUnits reads a telemetry item's formatted value with units.
func (c *Client) TlmWithUnits(ctx context.Context, target, packet, item, scope string) (any, error) {
	return c.tlmVariant(ctx, "tlm_with_units", target, packet, item, scope)
}

func (c *Client) tlmVariant(ctx context.Context, method, target, packet, item, scope string) (any, error) {
	var value any
	err := c.call(ctx, method, []any{target, packet, item}, scopeKwargs(scope), &value)
	return value, err
}

// CheckResult is the outcome of a telemetry check.
type CheckResult struct {
	Passed   bool
	Actual   any
	Expected string
	Operator string
}

// Check reads a telemetry item and compares it against an expected value.
// The comparison happens client-side on the converted value, matching the
// scripting API's check semantics. Supported operators: ==, !=, >, >=, <, <=.
func (c *Client) Check(ctx context.Context, target, packet, item, operator, expected, scope string) (*CheckResult, error) {
	actual, err := c.Tlm(ctx, target, packet, item, scope)
	if err != nil {
		return nil, err
	}

	passed, err := compare(actual, operator, expected)
	if err != nil {
		return nil, &Error{
			Kind:    KindRemoteRejected,
			Method:  "check",
			Message: err.Error(),
		}
	}
	return &CheckResult{
		Passed:   passed,
		Actual:   actual,
		Expected: expected,
		Operator: operator,
	}, nil
}

// compare applies operator between the telemetry value and the expected
// string. Both sides are compared numerically when they parse as numbers,
// otherwise as strings (equality operators only).
func compare(actual any, operator, expected string) (bool, error) {
	actualNum, actualIsNum := toFloat(actual)
	expectedNum, parseErr := strconv.ParseFloat(strings.TrimSpace(expected), 64)

	if actualIsNum && parseErr == nil {
		switch operator {
		case "==":
			return actualNum == expectedNum, nil
		case "!=":
			return actualNum != expectedNum, nil
		case ">":
			return actualNum > expectedNum, nil
		case ">=":
			return actualNum >= expectedNum, nil
		case "<":
			return actualNum < expectedNum, nil
		case "<=":
			return actualNum <= expectedNum, nil
		default:
			return false, fmt.Errorf("unsupported comparison operator %q", operator)
		}
	}

	actualStr := fmt.Sprintf("%v", actual)
	switch operator {
	case "==":
		return actualStr == expected, nil
	case "!=":
		return actualStr != expected, nil
	default:
		return false, fmt.Errorf("operator %q requires numeric values, got %q", operator, actualStr)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// GetTargetNames lists the targets in the scope.
func (c *Client) GetTargetNames(ctx context.Context, scope string) ([]string, error) {
	var names []string
	err := c.call(ctx, "get_target_names", nil, scopeKwargs(scope), &names)
	return names, err
}

// GetTarget returns a target's definition.
func (c *Client) GetTarget(ctx context.Context, target, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_target", []any{target}, scopeKwargs(scope))
}

// GetAllCmdNames lists a target's command names.
func (c *Client) GetAllCmdNames(ctx context.Context, target, scope string) ([]string, error) {
	var names []string
	err := c.call(ctx, "get_all_cmd_names", []any{target}, scopeKwargs(scope), &names)
	return names, err
}

// GetCmd returns a command's definition including its parameters.
func (c *Client) GetCmd(ctx context.Context, target, command, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_cmd", []any{target, command}, scopeKwargs(scope))
}

// GetAllTlm returns all telemetry packet definitions for a target.
func (c *Client) GetAllTlm(ctx context.Context, target, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_all_tlm", []any{target}, scopeKwargs(scope))
}

// GetItem returns a telemetry item's definition.
func (c *Client) GetItem(ctx context.Context, target, packet, item, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_item", []any{target, packet, item}, scopeKwargs(scope))
}

// GetInterfaceNames lists the interfaces in the scope.
func (c *Client) GetInterfaceNames(ctx context.Context, scope string) ([]string, error) {
	var names []string
	err := c.call(ctx, "get_interface_names", nil, scopeKwargs(scope), &names)
	return names, err
}

// GetInterface returns an interface's status.
func (c *Client) GetInterface(ctx context.Context, name, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_interface", []any{name}, scopeKwargs(scope))
}

// GetRouterNames lists the routers in the scope.
func (c *Client) GetRouterNames(ctx context.Context, scope string) ([]string, error) {
	var names []string
	err := c.call(ctx, "get_router_names", nil, scopeKwargs(scope), &names)
	return names, err
}

// ConnectInterface connects an interface.
func (c *Client) ConnectInterface(ctx context.Context, name, scope string) error {
	return c.call(ctx, "connect_interface", []any{name}, scopeKwargs(scope), nil)
}

// DisconnectInterface disconnects an interface.
func (c *Client) DisconnectInterface(ctx context.Context, name, scope string) error {
	return c.call(ctx, "disconnect_interface", []any{name}, scopeKwargs(scope), nil)
}

// GetLimits returns the limits settings for a telemetry item.
func (c *Client) GetLimits(ctx context.Context, target, packet, item, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_limits", []any{target, packet, item}, scopeKwargs(scope))
}

// GetLimitsSets lists the defined limits sets.
func (c *Client) GetLimitsSets(ctx context.Context, scope string) ([]string, error) {
	var sets []string
	err := c.call(ctx, "get_limits_sets", nil, scopeKwargs(scope), &sets)
	return sets, err
}

// GetLimitsSet returns the active limits set.
func (c *Client) GetLimitsSet(ctx context.Context, scope string) (string, error) {
	var set string
	err := c.call(ctx, "get_limits_set", nil, scopeKwargs(scope), &set)
	return set, err
}

// SetLimitsSet activates a limits set.
func (c *Client) SetLimitsSet(ctx context.Context, set, scope string) error {
	return c.call(ctx, "set_limits_set", []any{set}, scopeKwargs(scope), nil)
}

// GetOutOfLimits lists items currently out of limits.
func (c *Client) GetOutOfLimits(ctx context.Context, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_out_of_limits", nil, scopeKwargs(scope))
}

// GetOverallLimitsState returns the worst limits state across the scope.
// ignored lists items to exclude from the evaluation.
func (c *Client) GetOverallLimitsState(ctx context.Context, ignored []string, scope string) (string, error) {
	var params []any
	if len(ignored) > 0 {
		params = []any{ignored}
	}
	var state string
	err := c.call(ctx, "get_overall_limits_state", params, scopeKwargs(scope), &state)
	return state, err
}

// GetTlmCnt returns the receive count for a telemetry packet.
func (c *Client) GetTlmCnt(ctx context.Context, target, packet, scope string) (int64, error) {
	var count int64
	err := c.call(ctx, "get_tlm_cnt", []any{target, packet}, scopeKwargs(scope), &count)
	return count, err
}

// GetCmdCnt returns the send count for a command.
func (c *Client) GetCmdCnt(ctx context.Context, target, command, scope string) (int64, error) {
	var count int64
	err := c.call(ctx, "get_cmd_cnt", []any{target, command}, scopeKwargs(scope), &count)
	return count, err
}

// GetSetting reads one system setting.
func (c *Client) GetSetting(ctx context.Context, name, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_setting", []any{name}, scopeKwargs(scope))
}

// GetAllSettings reads all system settings.
func (c *Client) GetAllSettings(ctx context.Context, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "get_all_settings", nil, scopeKwargs(scope))
}

// ListSettings lists the known setting names.
func (c *Client) ListSettings(ctx context.Context, scope string) ([]string, error) {
	var names []string
	err := c.call(ctx, "list_settings", nil, scopeKwargs(scope), &names)
	return names, err
}

// StashSet stores a value in the scripting stash.
func (c *Client) StashSet(ctx context.Context, key string, value any, scope string) error {
	return c.call(ctx, "stash_set", []any{key, value}, scopeKwargs(scope), nil)
}

// StashGet reads a value from the scripting stash.
func (c *Client) StashGet(ctx context.Context, key, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "stash_get", []any{key}, scopeKwargs(scope))
}

// StashKeys lists the stash keys.
func (c *Client) StashKeys(ctx context.Context, scope string) ([]string, error) {
	var keys []string
	err := c.call(ctx, "stash_keys", nil, scopeKwargs(scope), &keys)
	return keys, err
}

// StashDelete removes a stash entry.
func (c *Client) StashDelete(ctx context.Context, key, scope string) error {
	return c.call(ctx, "stash_delete", []any{key}, scopeKwargs(scope), nil)
}

// StashAll returns the full stash contents.
func (c *Client) StashAll(ctx context.Context, scope string) (json.RawMessage, error) {
	return c.Call(ctx, "stash_all", nil, scopeKwargs(scope))
}

// MetadataSet records a metadata entry.
func (c *Client) MetadataSet(ctx context.Context, metadata map[string]any, color, scope string) (json.RawMessage, error) {
	kwargs := scopeKwargs(scope)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if color != "" {
		kwargs["color"] = color
	}
	return c.Call(ctx, "metadata_set", []any{metadata}, kwargs)
}

// MetadataGet returns the metadata entry at or before start.
func (c *Client) MetadataGet(ctx context.Context, start int64, scope string) (json.RawMessage, error) {
	kwargs := scopeKwargs(scope)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if start > 0 {
		kwargs["start"] = start
	}
	return c.Call(ctx, "metadata_get", nil, kwargs)
}

// MetadataAll returns all metadata entries.
func (c *Client) MetadataAll(ctx context.Context, limit int, scope string) (json.RawMessage, error) {
	kwargs := scopeKwargs(scope)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	return c.Call(ctx, "metadata_all", nil, kwargs)
}
