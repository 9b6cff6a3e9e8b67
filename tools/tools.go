// Package tools registers the MCP tool surface: connectivity probes plus the
// COSMOS commanding, telemetry, and system tools. Every tool is a thin
// adapter over the cosmos client; downstream failures come back as
// descriptive tool results, never protocol faults.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openc3/cosmos-mcp/cosmos"
	"github.com/openc3/cosmos-mcp/instrumentation"
)

// Service owns the tool handlers and their collaborators.
type Service struct {
	cosmos  *cosmos.Client
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// New creates the tool service. metrics may be nil.
func New(client *cosmos.Client, logger *slog.Logger, metrics *instrumentation.Metrics) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("cosmos client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cosmos: client, logger: logger, metrics: metrics}, nil
}

// Register adds every tool to the MCP server.
func (s *Service) Register(srv *server.MCPServer) {
	s.registerPingTools(srv)
	s.registerCommandTools(srv)
	s.registerTelemetryTools(srv)
	s.registerSystemTools(srv)
}

// handler wraps a tool handler with logging and metrics.
func (s *Service) handler(name string, fn server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := fn(ctx, request)
		isError := err != nil || (result != nil && result.IsError)
		if s.metrics != nil {
			s.metrics.RecordToolCall(ctx, name, float64(time.Since(start).Milliseconds()), isError)
		}
		s.logger.Debug("Handled tool call",
			"tool", name,
			"duration", time.Since(start),
			"error", isError)
		return result, err
	}
}

// jsonResult renders v as a JSON text result.
func jsonResult(v any) *mcp.CallToolResult {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(encoded))
}

// rawResult renders an API payload as text, passing JSON through unchanged.
func rawResult(raw json.RawMessage) *mcp.CallToolResult {
	if len(raw) == 0 {
		return mcp.NewToolResultText("null")
	}
	return mcp.NewToolResultText(string(raw))
}

// downstreamError renders a failed COSMOS call as a tool-level error result.
// The failure stays inside the tool payload so the MCP session keeps working.
func downstreamError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

// registerPingTools adds the connectivity probes.
func (s *Service) registerPingTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("ping",
			mcp.WithDescription("Check connectivity to the COSMOS API. Returns pong with the round-trip time."),
			mcp.WithString("host", mcp.Description("Informational host label echoed back in the response")),
		),
		s.handler("ping", s.handlePing),
	)

	srv.AddTool(
		mcp.NewTool("stream_ping",
			mcp.WithDescription("Emit a bounded sequence of ping payloads, one per interval. Useful for verifying streaming transport."),
			mcp.WithNumber("count", mcp.Description("Number of payloads to emit (default 3, max 100)")),
			mcp.WithNumber("delay", mcp.Description("Delay between payloads in milliseconds (default 100)")),
		),
		s.handler("stream_ping", s.handleStreamPing),
	)
}

func (s *Service) handlePing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	host := request.GetString("host", "")

	start := time.Now()
	_, err := s.cosmos.GetTargetNames(ctx, "")
	elapsed := time.Since(start)

	response := map[string]any{
		"message":    "pong",
		"latency_ms": elapsed.Milliseconds(),
	}
	if host != "" {
		response["host"] = host
	}
	if err != nil {
		response["cosmos_reachable"] = false
		response["cosmos_error"] = err.Error()
	} else {
		response["cosmos_reachable"] = true
	}
	return jsonResult(response), nil
}

func (s *Service) handleStreamPing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count := request.GetInt("count", 3)
	if count < 1 {
		count = 1
	}
	if count > 100 {
		count = 100
	}
	delay := time.Duration(request.GetInt("delay", 100)) * time.Millisecond

	content := make([]mcp.Content, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return mcp.NewToolResultError("stream cancelled"), nil
			case <-time.After(delay):
			}
		}
		payload, _ := json.Marshal(map[string]any{
			"message":  "pong",
			"sequence": i + 1,
			"of":       count,
		})
		content = append(content, mcp.NewTextContent(string(payload)))
	}

	return &mcp.CallToolResult{Content: content}, nil
}
