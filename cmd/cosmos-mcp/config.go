package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envConfig is the process configuration, read from the environment. The
// OPENC3_* names match the conventions of a COSMOS deployment so the gateway
// can run alongside the stack without extra wiring.
type envConfig struct {
	// Downstream COSMOS API
	APIURL      string        `env:"OPENC3_API_URL"`
	APISchema   string        `env:"OPENC3_API_SCHEMA" envDefault:"http"`
	APIHostname string        `env:"OPENC3_API_HOSTNAME" envDefault:"localhost"`
	APIPort     int           `env:"OPENC3_API_PORT" envDefault:"2900"`
	APIPassword string        `env:"OPENC3_API_PASSWORD"`
	APITimeout  time.Duration `env:"OPENC3_API_TIMEOUT" envDefault:"5s"`
	Scope       string        `env:"OPENC3_SCOPE" envDefault:"DEFAULT"`

	// Upstream identity provider
	KeycloakURL   string `env:"OPENC3_KEYCLOAK_URL"`
	KeycloakRealm string `env:"KEYCLOAK_REALM" envDefault:"openc3"`
	ClientID      string `env:"OAUTH_CLIENT_ID"`
	ClientSecret  string `env:"OAUTH_CLIENT_SECRET"`

	// Gateway
	AuthMode     string `env:"MCP_AUTH_MODE" envDefault:"none"`
	BaseURL      string `env:"MCP_BASE_URL"`
	BindHost     string `env:"MCP_BIND_HOST" envDefault:"0.0.0.0"`
	BindPort     int    `env:"MCP_BIND_PORT" envDefault:"3443"`
	InitialToken string `env:"DCR_INITIAL_TOKEN"`
	AuditLogging bool   `env:"MCP_AUDIT_LOGGING" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// loadConfig reads .env (when present) and the environment.
func loadConfig() (*envConfig, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &envConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = fmt.Sprintf("%s://%s:%d", cfg.APISchema, cfg.APIHostname, cfg.APIPort)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://%s:%d", cfg.BindHost, cfg.BindPort)
	}
	return cfg, nil
}

// bindAddr is the listen address.
func (c *envConfig) bindAddr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.BindPort)
}

// newLogger builds the process logger at the configured level.
func (c *envConfig) newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
