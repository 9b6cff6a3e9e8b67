package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	gateway "github.com/openc3/cosmos-mcp"
	"github.com/openc3/cosmos-mcp/cosmos"
	"github.com/openc3/cosmos-mcp/security"
	"github.com/openc3/cosmos-mcp/tools"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *envConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cfg.newLogger()

	gw, err := gateway.New(ctx, &gateway.Config{
		Resource: cfg.BaseURL,
		Mode:     gateway.AuthMode(cfg.AuthMode),
		Keycloak: gateway.KeycloakConfig{
			BaseURL:      cfg.KeycloakURL,
			Realm:        cfg.KeycloakRealm,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		},
		Security: gateway.SecurityConfig{
			InitialAccessToken: cfg.InitialToken,
			EnableAuditLogging: cfg.AuditLogging,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		gw.Close(shutdownCtx)
	}()

	cosmosClient, err := cosmos.NewClient(&cosmos.Config{
		APIURL:  cfg.APIURL,
		Auth:    cfg.APIPassword,
		Scope:   cfg.Scope,
		Timeout: cfg.APITimeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create cosmos client: %w", err)
	}

	toolService, err := tools.New(cosmosClient, logger, gw.Metrics())
	if err != nil {
		return fmt.Errorf("failed to create tool service: %w", err)
	}

	mcpSrv := mcpserver.NewMCPServer("cosmos-mcp", version,
		mcpserver.WithToolCapabilities(false),
	)
	toolService.Register(mcpSrv)

	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	mux.Handle("/mcp", gw.RequireAuth(mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath("/mcp"),
	)))

	srv := &http.Server{
		Addr:              cfg.bindAddr(),
		Handler:           security.RequestIDMiddleware(security.SecureHeadersMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving MCP gateway",
			"addr", cfg.bindAddr(),
			"auth_mode", cfg.AuthMode,
			"cosmos_api", cfg.APIURL,
			"scope", cfg.Scope)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
