package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestValidateRedirectURI(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	valid := []string{
		"https://app.example.com/callback",
		"https://app.example.com:8443/callback?flavor=desktop",
		"http://localhost:3000/callback",
		"http://127.0.0.1/callback",
		"http://[::1]:8080/callback",
	}
	for _, uri := range valid {
		assert.NoError(t, srv.validateRedirectURI(uri), uri)
	}

	invalid := []string{
		"",
		"https://app.example.com/callback#fragment",
		"https://*.example.com/callback",
		"http://app.example.com/callback",
		"/callback",
		"ftp://app.example.com/callback",
		"javascript:alert(1)",
	}
	for _, uri := range invalid {
		assert.ErrorIs(t, srv.validateRedirectURI(uri), ErrRedirectURIRejected, uri)
	}
}

func TestValidateRedirectURIInsecureMode(t *testing.T) {
	srv, _, _ := newTestServer(t, &Config{
		Issuer:                    "https://gw.example.com",
		AllowInsecureRedirectURIs: true,
	})

	assert.NoError(t, srv.validateRedirectURI("http://app.example.com/callback"))
}

func TestRedirectURIRegistered(t *testing.T) {
	registered := []string{"https://app.example.com/callback"}

	assert.True(t, redirectURIRegistered(registered, "https://app.example.com/callback"))
	// Exact match only; no prefix or case games.
	assert.False(t, redirectURIRegistered(registered, "https://app.example.com/callback/extra"))
	assert.False(t, redirectURIRegistered(registered, "https://app.example.com/Callback"))
	assert.False(t, redirectURIRegistered(nil, "https://app.example.com/callback"))
}

func TestValidateCodeChallenge(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	assert.NoError(t, srv.validateCodeChallenge("abc", "S256"))
	assert.Error(t, srv.validateCodeChallenge("", ""), "PKCE is required")
	assert.Error(t, srv.validateCodeChallenge("abc", ""))
	assert.Error(t, srv.validateCodeChallenge("abc", "plain"))
	assert.Error(t, srv.validateCodeChallenge("abc", "S512"))
}

func TestVerifyCodeVerifier(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	require.NoError(t, verifyCodeVerifier(verifier, challenge, "S256"))

	assert.Error(t, verifyCodeVerifier(oauth2.GenerateVerifier(), challenge, "S256"))
	assert.Error(t, verifyCodeVerifier("", challenge, "S256"))
	assert.Error(t, verifyCodeVerifier(verifier, challenge, "S512"))

	// No challenge recorded means nothing to verify.
	assert.NoError(t, verifyCodeVerifier("", "", "S256"))

	assert.NoError(t, verifyCodeVerifier("plain-value", "plain-value", "plain"))
	assert.Error(t, verifyCodeVerifier("plain-value", "other", "plain"))
}

func TestValidateScope(t *testing.T) {
	srv, _, _ := newTestServer(t, &Config{
		Issuer:          "https://gw.example.com",
		SupportedScopes: []string{"openid", "profile"},
	})

	assert.NoError(t, srv.validateScope(""))
	assert.NoError(t, srv.validateScope("openid"))
	assert.NoError(t, srv.validateScope("openid profile"))
	assert.Error(t, srv.validateScope("openid admin"))

	open, _, _ := newTestServer(t, nil)
	assert.NoError(t, open.validateScope("anything goes"))
}
