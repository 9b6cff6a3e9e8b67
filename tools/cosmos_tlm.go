package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTelemetryTools adds the telemetry read and check tools.
func (s *Service) registerTelemetryTools(srv *server.MCPServer) {
	tlmVariants := []struct {
		name string
		desc string
		read func(ctx context.Context, target, packet, item, scope string) (any, error)
	}{
		{"cosmos_tlm", "Read a telemetry item's converted value.", s.cosmos.Tlm},
		{"cosmos_tlm_raw", "Read a telemetry item's raw value.", s.cosmos.TlmRaw},
		{"cosmos_tlm_formatted", "Read a telemetry item's formatted value.", s.cosmos.TlmFormatted},
		{"cosmos_tlm_with_units", "Read a telemetry item's formatted value with units.", s.cosmos.TlmWithUnits},
	}

	for _, variant := range tlmVariants {
		read := variant.read
		srv.AddTool(
			mcp.NewTool(variant.name,
				mcp.WithDescription(variant.desc),
				mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name, e.g. INST")),
				mcp.WithString("packet_name", mcp.Required(), mcp.Description("Telemetry packet name, e.g. HEALTH_STATUS")),
				mcp.WithString("item_name", mcp.Required(), mcp.Description("Item name, e.g. TEMP1")),
				mcp.WithString("scope", mcp.Description("COSMOS scope (defaults to the configured scope)")),
			),
			s.handler(variant.name, s.tlmHandler(read)),
		)
	}

	srv.AddTool(
		mcp.NewTool("cosmos_check",
			mcp.WithDescription("Read a telemetry item and compare it against an expected value. Supported operators: ==, !=, >, >=, <, <=."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("packet_name", mcp.Required(), mcp.Description("Telemetry packet name")),
			mcp.WithString("item_name", mcp.Required(), mcp.Description("Item name")),
			mcp.WithString("comparison", mcp.Required(), mcp.Description("Comparison operator")),
			mcp.WithString("expected_value", mcp.Required(), mcp.Description("Expected value")),
			mcp.WithString("scope", mcp.Description("COSMOS scope (defaults to the configured scope)")),
		),
		s.handler("cosmos_check", s.handleCheck),
	)
}

func (s *Service) tlmHandler(read func(ctx context.Context, target, packet, item, scope string) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := request.RequireString("target_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		packet, err := request.RequireString("packet_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		item, err := request.RequireString("item_name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		value, err := read(ctx, target, packet, item, request.GetString("scope", ""))
		if err != nil {
			return downstreamError(err), nil
		}
		return jsonResult(map[string]any{
			"target": target,
			"packet": packet,
			"item":   item,
			"value":  value,
		}), nil
	}
}

func (s *Service) handleCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := request.RequireString("target_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	packet, err := request.RequireString("packet_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	item, err := request.RequireString("item_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	comparison, err := request.RequireString("comparison")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expected, err := request.RequireString("expected_value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.cosmos.Check(ctx, target, packet, item, comparison, expected, request.GetString("scope", ""))
	if err != nil {
		return downstreamError(err), nil
	}
	return jsonResult(map[string]any{
		"target": target,
		"packet": packet,
		"item":   item,
		"check":  comparison + " " + expected,
		"actual": result.Actual,
		"passed": result.Passed,
	}), nil
}
