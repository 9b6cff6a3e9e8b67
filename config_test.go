package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthModeValid(t *testing.T) {
	assert.True(t, AuthModeNone.Valid())
	assert.True(t, AuthModeStatic.Valid())
	assert.True(t, AuthModeDCR.Valid())
	assert.False(t, AuthMode("").Valid())
	assert.False(t, AuthMode("oauth").Valid())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "missing resource",
			config:  Config{Mode: AuthModeNone},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			config:  Config{Resource: "https://mcp.example.com", Mode: "basic"},
			wantErr: true,
		},
		{
			name:   "none mode needs no keycloak",
			config: Config{Resource: "https://mcp.example.com", Mode: AuthModeNone},
		},
		{
			name: "static mode needs keycloak",
			config: Config{
				Resource: "https://mcp.example.com",
				Mode:     AuthModeStatic,
			},
			wantErr: true,
		},
		{
			name: "static mode complete",
			config: Config{
				Resource: "https://mcp.example.com",
				Mode:     AuthModeStatic,
				Keycloak: KeycloakConfig{
					BaseURL:  "https://keycloak.example.com",
					Realm:    "openc3",
					ClientID: "gw",
				},
			},
		},
		{
			name: "dcr mode needs initial access token",
			config: Config{
				Resource: "https://mcp.example.com",
				Mode:     AuthModeDCR,
				Keycloak: KeycloakConfig{
					BaseURL:  "https://keycloak.example.com",
					Realm:    "openc3",
					ClientID: "gw",
				},
			},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{
		Resource: "https://mcp.example.com/",
		Mode:     AuthModeStatic,
		Keycloak: KeycloakConfig{
			BaseURL:  "https://keycloak.example.com",
			Realm:    "openc3",
			ClientID: "gw",
		},
	}
	require.NoError(t, cfg.validate())
	cfg.applyDefaults()

	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.HTTPClient)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, "https://mcp.example.com/oauth/callback", cfg.Keycloak.RedirectURL)
	assert.Equal(t, "gw", cfg.Keycloak.Audience, "audience defaults to the client ID")
	assert.Equal(t, 10, cfg.Security.MaxClientsPerIP)
	assert.Equal(t, []string{"/health"}, cfg.ExemptPaths)
}

func TestKeycloakIssuer(t *testing.T) {
	k := KeycloakConfig{BaseURL: "https://keycloak.example.com/", Realm: "openc3"}
	assert.Equal(t, "https://keycloak.example.com/realms/openc3", k.Issuer())
}

func TestTrimTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://a.example.com", trimTrailingSlash("https://a.example.com///"))
	assert.Equal(t, "https://a.example.com", trimTrailingSlash("https://a.example.com"))
	assert.Equal(t, "", trimTrailingSlash("/"))
}
