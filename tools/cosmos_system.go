package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerSystemTools adds the target/interface introspection, limits,
// counter, settings, stash, and metadata tools.
func (s *Service) registerSystemTools(srv *server.MCPServer) {
	s.registerTargetTools(srv)
	s.registerInterfaceTools(srv)
	s.registerLimitsTools(srv)
	s.registerCountTools(srv)
	s.registerSettingsTools(srv)
	s.registerStashTools(srv)
	s.registerMetadataTools(srv)
}

func scopeOpt() mcp.PropertyOption {
	return mcp.Description("COSMOS scope (defaults to the configured scope)")
}

func (s *Service) registerTargetTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_get_target_names",
			mcp.WithDescription("List the target names in the scope."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_target_names", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			names, err := s.cosmos.GetTargetNames(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(names), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_target",
			mcp.WithDescription("Return a target's definition."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_target", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, err := request.RequireString("target_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := s.cosmos.GetTarget(ctx, target, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_all_cmd_names",
			mcp.WithDescription("List a target's command names."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_all_cmd_names", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, err := request.RequireString("target_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			names, err := s.cosmos.GetAllCmdNames(ctx, target, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(names), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_cmd",
			mcp.WithDescription("Return a command's definition including its parameters."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("command_name", mcp.Required(), mcp.Description("Command name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_cmd", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, err := request.RequireString("target_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			command, err := request.RequireString("command_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := s.cosmos.GetCmd(ctx, target, command, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_all_tlm",
			mcp.WithDescription("Return all telemetry packet definitions for a target."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_all_tlm", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, err := request.RequireString("target_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := s.cosmos.GetAllTlm(ctx, target, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_item",
			mcp.WithDescription("Return a telemetry item's definition."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("packet_name", mcp.Required(), mcp.Description("Telemetry packet name")),
			mcp.WithString("item_name", mcp.Required(), mcp.Description("Item name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_item", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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
			raw, err := s.cosmos.GetItem(ctx, target, packet, item, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)
}

func (s *Service) registerInterfaceTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_get_interface_names",
			mcp.WithDescription("List the interface names in the scope."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_interface_names", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			names, err := s.cosmos.GetInterfaceNames(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(names), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_interface",
			mcp.WithDescription("Return an interface's status."),
			mcp.WithString("interface_name", mcp.Required(), mcp.Description("Interface name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_interface", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := request.RequireString("interface_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := s.cosmos.GetInterface(ctx, name, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_router_names",
			mcp.WithDescription("List the router names in the scope."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_router_names", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			names, err := s.cosmos.GetRouterNames(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(names), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_connect_interface",
			mcp.WithDescription("Connect an interface."),
			mcp.WithString("interface_name", mcp.Required(), mcp.Description("Interface name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_connect_interface", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := request.RequireString("interface_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := s.cosmos.ConnectInterface(ctx, name, request.GetString("scope", "")); err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("interface %s connecting", name)), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_disconnect_interface",
			mcp.WithDescription("Disconnect an interface."),
			mcp.WithString("interface_name", mcp.Required(), mcp.Description("Interface name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_disconnect_interface", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := request.RequireString("interface_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := s.cosmos.DisconnectInterface(ctx, name, request.GetString("scope", "")); err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("interface %s disconnecting", name)), nil
		}),
	)
}

func (s *Service) registerLimitsTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_get_limits",
			mcp.WithDescription("Return the limits settings for a telemetry item."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("packet_name", mcp.Required(), mcp.Description("Telemetry packet name")),
			mcp.WithString("item_name", mcp.Required(), mcp.Description("Item name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_limits", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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
			raw, err := s.cosmos.GetLimits(ctx, target, packet, item, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_limits_sets",
			mcp.WithDescription("List the defined limits sets."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_limits_sets", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sets, err := s.cosmos.GetLimitsSets(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(sets), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_limits_set",
			mcp.WithDescription("Return the active limits set."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_limits_set", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			set, err := s.cosmos.GetLimitsSet(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(set), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_set_limits_set",
			mcp.WithDescription("Activate a limits set."),
			mcp.WithString("limits_set", mcp.Required(), mcp.Description("Limits set name, e.g. DEFAULT")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_set_limits_set", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			set, err := request.RequireString("limits_set")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := s.cosmos.SetLimitsSet(ctx, set, request.GetString("scope", "")); err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("limits set %s activated", set)), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_out_of_limits",
			mcp.WithDescription("List the telemetry items currently out of limits."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_out_of_limits", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := s.cosmos.GetOutOfLimits(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_overall_limits_state",
			mcp.WithDescription("Return the worst limits state across the scope (GREEN, YELLOW, RED)."),
			mcp.WithString("ignored_items", mcp.Description("JSON array of \"TARGET PACKET ITEM\" strings to exclude")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_overall_limits_state", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var ignored []string
			if raw := request.GetString("ignored_items", ""); raw != "" {
				if err := json.Unmarshal([]byte(raw), &ignored); err != nil {
					return mcp.NewToolResultError(fmt.Sprintf("ignored_items must be a JSON array of strings: %v", err)), nil
				}
			}
			state, err := s.cosmos.GetOverallLimitsState(ctx, ignored, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(state), nil
		}),
	)
}

func (s *Service) registerCountTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_get_tlm_cnt",
			mcp.WithDescription("Return the receive count for a telemetry packet."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("packet_name", mcp.Required(), mcp.Description("Telemetry packet name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_tlm_cnt", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, err := request.RequireString("target_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			packet, err := request.RequireString("packet_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			count, err := s.cosmos.GetTlmCnt(ctx, target, packet, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(map[string]any{"target": target, "packet": packet, "count": count}), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_cmd_cnt",
			mcp.WithDescription("Return the send count for a command."),
			mcp.WithString("target_name", mcp.Required(), mcp.Description("Target name")),
			mcp.WithString("command_name", mcp.Required(), mcp.Description("Command name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_cmd_cnt", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, err := request.RequireString("target_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			command, err := request.RequireString("command_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			count, err := s.cosmos.GetCmdCnt(ctx, target, command, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(map[string]any{"target": target, "command": command, "count": count}), nil
		}),
	)
}

func (s *Service) registerSettingsTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_get_setting",
			mcp.WithDescription("Read one system setting."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Setting name")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_setting", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := request.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := s.cosmos.GetSetting(ctx, name, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_get_all_settings",
			mcp.WithDescription("Read all system settings."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_get_all_settings", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := s.cosmos.GetAllSettings(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_list_settings",
			mcp.WithDescription("List the known setting names."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_list_settings", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			names, err := s.cosmos.ListSettings(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(names), nil
		}),
	)
}

func (s *Service) registerStashTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_stash_set",
			mcp.WithDescription("Store a value in the scripting stash."),
			mcp.WithString("key", mcp.Required(), mcp.Description("Stash key")),
			mcp.WithString("value", mcp.Required(), mcp.Description("Value to store (JSON values are stored typed, anything else as a string)")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_stash_set", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			key, err := request.RequireString("key")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			rawValue, err := request.RequireString("value")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			var value any
			if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
				value = rawValue
			}
			if err := s.cosmos.StashSet(ctx, key, value, request.GetString("scope", "")); err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("stash key %s set", key)), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_stash_get",
			mcp.WithDescription("Read a value from the scripting stash."),
			mcp.WithString("key", mcp.Required(), mcp.Description("Stash key")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_stash_get", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			key, err := request.RequireString("key")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			raw, err := s.cosmos.StashGet(ctx, key, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_stash_keys",
			mcp.WithDescription("List the stash keys."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_stash_keys", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			keys, err := s.cosmos.StashKeys(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return jsonResult(keys), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_stash_delete",
			mcp.WithDescription("Remove a stash entry."),
			mcp.WithString("key", mcp.Required(), mcp.Description("Stash key")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_stash_delete", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			key, err := request.RequireString("key")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err := s.cosmos.StashDelete(ctx, key, request.GetString("scope", "")); err != nil {
				return downstreamError(err), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("stash key %s deleted", key)), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_stash_all",
			mcp.WithDescription("Return the full stash contents."),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_stash_all", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := s.cosmos.StashAll(ctx, request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)
}

func (s *Service) registerMetadataTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("cosmos_metadata_set",
			mcp.WithDescription("Record a metadata entry."),
			mcp.WithString("metadata", mcp.Required(), mcp.Description("Metadata as a JSON object")),
			mcp.WithString("color", mcp.Description("Display color, e.g. #003784")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_metadata_set", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rawMetadata, err := request.RequireString("metadata")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			var metadata map[string]any
			if err := json.Unmarshal([]byte(rawMetadata), &metadata); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("metadata must be a JSON object: %v", err)), nil
			}
			raw, err := s.cosmos.MetadataSet(ctx, metadata, request.GetString("color", ""), request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_metadata_get",
			mcp.WithDescription("Return the metadata entry at or before a start time."),
			mcp.WithNumber("start", mcp.Description("Unix timestamp; zero means latest")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_metadata_get", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := s.cosmos.MetadataGet(ctx, int64(request.GetFloat("start", 0)), request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_metadata_all",
			mcp.WithDescription("Return all metadata entries."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries to return")),
			mcp.WithString("scope", scopeOpt()),
		),
		s.handler("cosmos_metadata_all", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := s.cosmos.MetadataAll(ctx, request.GetInt("limit", 0), request.GetString("scope", ""))
			if err != nil {
				return downstreamError(err), nil
			}
			return rawResult(raw), nil
		}),
	)
}
