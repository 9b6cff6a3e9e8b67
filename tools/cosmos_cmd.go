package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openc3/cosmos-mcp/cosmos"
)

// registerCommandTools adds the commanding tools.
func (s *Service) registerCommandTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_cmd",
			mcp.WithDescription("Send a command to a COSMOS target by target and command name."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name, e.g. INST")),
			mcp.WithString("command_name", mcp.Required(), mcp.Description("Command name, e.g. COLLECT")),
			mcp.WithString("parameters", mcp.Description("Command parameters as a JSON object, e.g. {\"TYPE\": \"NORMAL\", \"DURATION\": 5}")),
			mcp.WithNumber("timeout", mcp.Description("Command timeout in seconds")),
			mcp.WithBoolean("log_message", mcp.Description("Whether the API logs the command message")),
			mcp.WithBoolean("validate", mcp.Description("Whether the API validates the command")),
			mcp.WithBoolean("no_hazardous_check", mcp.Description("Skip the hazardous command prompt")),
			mcp.WithString("scope", mcp.Description("COSMOS scope (defaults to the configured scope)")),
		),
		s.handler("cosmos_cmd", s.handleCmd),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_cmd_string",
			mcp.WithDescription("Send a command in string form, e.g. \"INST COLLECT with TYPE NORMAL, DURATION 5\"."),
			mcp.WithString("command_string", mcp.Required(), mcp.Description("Full command string")),
			mcp.WithNumber("timeout", mcp.Description("Command timeout in seconds")),
			mcp.WithBoolean("log_message", mcp.Description("Whether the API logs the command message")),
			mcp.WithBoolean("validate", mcp.Description("Whether the API validates the command")),
			mcp.WithBoolean("no_hazardous_check", mcp.Description("Skip the hazardous command prompt")),
			mcp.WithString("scope", mcp.Description("COSMOS scope (defaults to the configured scope)")),
		),
		s.handler("cosmos_cmd_string", s.handleCmdString),
	)
}

// cmdOptions builds CmdOptions from the shared optional parameters.
func cmdOptions(request mcp.CallToolRequest) *cosmos.CmdOptions {
	opts := &cosmos.CmdOptions{
		Scope:            request.GetString("scope", ""),
		Timeout:          request.GetFloat("timeout", 0),
		NoHazardousCheck: request.GetBool("no_hazardous_check", false),
	}
	if logMessage := request.GetBool("log_message", true); !logMessage {
		opts.LogMessage = &logMessage
	}
	if validate := request.GetBool("validate", true); !validate {
		opts.Validate = &validate
	}
	return opts
}

func (s *Service) handleCmd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := request.RequireString("target_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := request.RequireString("command_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var params map[string]any
	if raw := request.GetString("parameters", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parameters must be a JSON object: %v", err)), nil
		}
	}

	result, err := s.cosmos.Cmd(ctx, target, command, params, cmdOptions(request))
	if err != nil {
		return downstreamError(err), nil
	}
	return jsonResult(map[string]any{
		"sent":    fmt.Sprintf("%s %s", target, command),
		"result":  json.RawMessage(orNull(result)),
		"success": true,
	}), nil
}

func (s *Service) handleCmdString(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	commandString, err := request.RequireString("command_string")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.cosmos.CmdString(ctx, commandString, cmdOptions(request))
	if err != nil {
		return downstreamError(err), nil
	}
	return jsonResult(map[string]any{
		"sent":    commandString,
		"result":  json.RawMessage(orNull(result)),
		"success": true,
	}), nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
