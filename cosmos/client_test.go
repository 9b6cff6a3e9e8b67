package cosmos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRPCServer serves the cmd-tlm-api endpoint with a per-method response
// table. The captured request is stored for assertions.
func newRPCServer(t *testing.T, respond func(req rpcRequest) (any, *rpcError)) (*httptest.Server, *Client) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openc3-api/api", r.URL.Path)
		require.Equal(t, "application/json-rpc", r.Header.Get("Content-Type"))

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "2.0", req.JSONRPC)

		result, rpcErr := respond(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		APIURL: server.URL,
		Auth:   "password123",
		Scope:  "DEFAULT",
	})
	require.NoError(t, err)
	return server, client
}

func TestCallSuccess(t *testing.T) {
	var captured rpcRequest
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		captured = req
		return []string{"INST", "SYSTEM"}, nil
	})

	names, err := client.GetTargetNames(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"INST", "SYSTEM"}, names)

	assert.Equal(t, "get_target_names", captured.Method)
	assert.Equal(t, "DEFAULT", captured.KeywordParams["scope"], "default scope travels with every call")
}

func TestCallScopeOverride(t *testing.T) {
	var captured rpcRequest
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		captured = req
		return []string{}, nil
	})

	_, err := client.GetTargetNames(context.Background(), "OPS")
	require.NoError(t, err)
	assert.Equal(t, "OPS", captured.KeywordParams["scope"])
}

func TestCallSendsAuthorizationHeader(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":[],"id":1}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{APIURL: server.URL, Auth: "password123"})
	require.NoError(t, err)

	_, err = client.GetTargetNames(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "password123", auth, "COSMOS expects the raw credential, no Bearer prefix")
}

func TestCallRemoteRejected(t *testing.T) {
	_, client := newRPCServer(t, func(rpcRequest) (any, *rpcError) {
		return nil, &rpcError{Code: -32601, Message: "Unknown method"}
	})

	_, err := client.Call(context.Background(), "bogus", nil, nil)
	require.Error(t, err)

	var callErr *Error
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, KindRemoteRejected, callErr.Kind)
	assert.Equal(t, -32601, callErr.Code)
	assert.Equal(t, "bogus", callErr.Method)
	assert.ErrorIs(t, err, &Error{Kind: KindRemoteRejected})
}

func TestCallHTTPErrorWithRPCBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"target not found"},"id":1}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{APIURL: server.URL})
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "get_target", []any{"NOPE"}, nil)
	var callErr *Error
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, KindRemoteRejected, callErr.Kind)
	assert.Equal(t, -32000, callErr.Code)
	assert.Contains(t, callErr.Message, "target not found")
}

func TestCallTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{APIURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "tlm", []any{"INST", "HEALTH_STATUS", "TEMP1"}, nil)
	assert.ErrorIs(t, err, &Error{Kind: KindTimeout})
}

func TestCallConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(&Config{APIURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "tlm", nil, nil)
	assert.ErrorIs(t, err, &Error{Kind: KindConnectionError})
}

func TestCmdBuildsRequest(t *testing.T) {
	var captured rpcRequest
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		captured = req
		return "INST COLLECT", nil
	})

	logMessage := false
	_, err := client.Cmd(context.Background(), "INST", "COLLECT",
		map[string]any{"TYPE": "NORMAL", "DURATION": 5},
		&CmdOptions{LogMessage: &logMessage, Timeout: 10})
	require.NoError(t, err)

	assert.Equal(t, "cmd", captured.Method)
	require.Len(t, captured.Params, 3)
	assert.Equal(t, "INST", captured.Params[0])
	assert.Equal(t, "COLLECT", captured.Params[1])
	assert.Equal(t, false, captured.KeywordParams["log_message"])
	assert.Equal(t, float64(10), captured.KeywordParams["timeout"])
}

func TestCmdNoHazardousCheck(t *testing.T) {
	var captured rpcRequest
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		captured = req
		return "ok", nil
	})

	_, err := client.Cmd(context.Background(), "INST", "CLEAR", nil, &CmdOptions{NoHazardousCheck: true})
	require.NoError(t, err)
	assert.Equal(t, "cmd_no_hazardous_check", captured.Method)
	require.Len(t, captured.Params, 2, "empty parameter maps are omitted")
}

func TestTlmVariants(t *testing.T) {
	var methods []string
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		methods = append(methods, req.Method)
		return 42.5, nil
	})
	ctx := context.Background()

	value, err := client.Tlm(ctx, "INST", "HEALTH_STATUS", "TEMP1", "")
	require.NoError(t, err)
	assert.Equal(t, 42.5, value)

	_, err = client.TlmRaw(ctx, "INST", "HEALTH_STATUS", "TEMP1", "")
	require.NoError(t, err)
	_, err = client.TlmFormatted(ctx, "INST", "HEALTH_STATUS", "TEMP1", "")
	require.NoError(t, err)
	_, err = client.TlmWithUnits(ctx, "INST", "HEALTH_STATUS", "TEMP1", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"tlm", "tlm_raw", "tlm_formatted", "tlm_with_units"}, methods)
}

func TestCheck(t *testing.T) {
	_, client := newRPCServer(t, func(rpcRequest) (any, *rpcError) {
		return 75.5, nil
	})
	ctx := context.Background()

	result, err := client.Check(ctx, "INST", "HEALTH_STATUS", "TEMP1", ">", "70", "")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 75.5, result.Actual)

	result, err = client.Check(ctx, "INST", "HEALTH_STATUS", "TEMP1", "<=", "70", "")
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestCheckStringEquality(t *testing.T) {
	_, client := newRPCServer(t, func(rpcRequest) (any, *rpcError) {
		return "CONNECTED", nil
	})
	ctx := context.Background()

	result, err := client.Check(ctx, "INST", "HEALTH_STATUS", "STATE", "==", "CONNECTED", "")
	require.NoError(t, err)
	assert.True(t, result.Passed)

	// Ordering operators need numbers on both sides.
	_, err = client.Check(ctx, "INST", "HEALTH_STATUS", "STATE", ">", "CONNECTED", "")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	cases := []struct {
		actual   any
		operator string
		expected string
		want     bool
	}{
		{42.0, "==", "42", true},
		{42.0, "!=", "42", false},
		{42, ">", "41.5", true},
		{int64(10), ">=", "10", true},
		{"3.14", "<", "4", true},
		{"ENABLED", "==", "ENABLED", true},
		{"ENABLED", "!=", "DISABLED", true},
	}
	for _, tc := range cases {
		got, err := compare(tc.actual, tc.operator, tc.expected)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %s", tc.actual, tc.operator, tc.expected)
	}

	_, err := compare(42.0, "~=", "42")
	assert.Error(t, err)
	_, err = compare("UP", ">", "DOWN")
	assert.Error(t, err)
}

func TestToFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{42.5, 42.5, true},
		{float32(1.5), 1.5, true},
		{7, 7, true},
		{int64(-3), -3, true},
		{json.Number("2.5"), 2.5, true},
		{" 10 ", 10, true},
		{"abc", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := toFloat(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "%v", tc.in)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{})
	assert.Error(t, err)

	client, err := NewClient(&Config{APIURL: "http://localhost:2900/"})
	require.NoError(t, err)
	assert.Equal(t, "DEFAULT", client.Scope())
	assert.Equal(t, "http://localhost:2900/openc3-api/api", client.endpoint)
}

func TestGetOverallLimitsState(t *testing.T) {
	var captured rpcRequest
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		captured = req
		return "YELLOW", nil
	})

	state, err := client.GetOverallLimitsState(context.Background(), []string{"INST HEALTH_STATUS TEMP4"}, "")
	require.NoError(t, err)
	assert.Equal(t, "YELLOW", state)
	assert.Equal(t, "get_overall_limits_state", captured.Method)
	require.Len(t, captured.Params, 1)
}

func TestStashRoundTrip(t *testing.T) {
	var captured rpcRequest
	_, client := newRPCServer(t, func(req rpcRequest) (any, *rpcError) {
		captured = req
		return map[string]any{"stored": true}, nil
	})
	ctx := context.Background()

	require.NoError(t, client.StashSet(ctx, "run_id", 17, ""))
	assert.Equal(t, "stash_set", captured.Method)
	assert.Equal(t, "run_id", captured.Params[0])

	raw, err := client.StashGet(ctx, "run_id", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stored":true}`, string(raw))
}
