package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryDoc(base string) DiscoveryDocument {
	return DiscoveryDocument{
		Issuer:                 base,
		AuthorizationEndpoint:  base + "/auth",
		TokenEndpoint:          base + "/token",
		UserInfoEndpoint:       base + "/userinfo",
		JWKSUri:                base + "/keys",
		ResponseTypesSupported: []string{"code"},
	}
}

func newDiscoveryServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		require.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(discoveryDoc(server.URL))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDiscoverDefaults(t *testing.T) {
	client := NewDiscoveryClient(nil, 0, nil, false)
	assert.Equal(t, time.Hour, client.cacheTTL)
	assert.NotNil(t, client.httpClient)
}

func TestDiscover(t *testing.T) {
	server := newDiscoveryServer(t, nil)
	client := NewDiscoveryClient(nil, time.Hour, nil, true)

	doc, err := client.Discover(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL, doc.Issuer)
	assert.Equal(t, server.URL+"/auth", doc.AuthorizationEndpoint)
	assert.Equal(t, server.URL+"/token", doc.TokenEndpoint)
	assert.Equal(t, server.URL+"/keys", doc.JWKSUri)
}

func TestDiscoverCaches(t *testing.T) {
	var hits atomic.Int64
	server := newDiscoveryServer(t, &hits)
	client := NewDiscoveryClient(nil, time.Hour, nil, true)
	ctx := context.Background()

	_, err := client.Discover(ctx, server.URL)
	require.NoError(t, err)
	_, err = client.Discover(ctx, server.URL)
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load(), "second lookup is served from cache")

	client.ClearCache()
	_, err = client.Discover(ctx, server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestDiscoverRejectsInsecureIssuer(t *testing.T) {
	server := newDiscoveryServer(t, nil)
	client := NewDiscoveryClient(nil, time.Hour, nil, false)

	_, err := client.Discover(context.Background(), server.URL)
	assert.Error(t, err, "plain-http issuers need allowInsecure")
}

func TestDiscoverRejectsBadIssuerURL(t *testing.T) {
	client := NewDiscoveryClient(nil, time.Hour, nil, true)
	ctx := context.Background()

	for _, issuer := range []string{
		"ftp://idp.example.com",
		"https://idp.example.com?query=1",
		"https://idp.example.com#frag",
		"https://",
	} {
		_, err := client.Discover(ctx, issuer)
		assert.Error(t, err, issuer)
	}
}

func TestDiscoverRejectsIncompleteDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"https://idp.example.com"}`))
	}))
	t.Cleanup(server.Close)

	client := NewDiscoveryClient(nil, time.Hour, nil, true)
	_, err := client.Discover(context.Background(), server.URL)
	assert.Error(t, err, "token_endpoint and jwks_uri are required")
}

func TestDiscoverRejectsInsecureEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		doc := discoveryDoc("https://idp.example.com")
		doc.TokenEndpoint = "http://idp.example.com/token"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)

	client := NewDiscoveryClient(nil, time.Hour, nil, false)
	_, err := client.Discover(context.Background(), "https://"+server.Listener.Addr().String())
	assert.Error(t, err)
}

func TestDiscoverHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := NewDiscoveryClient(nil, time.Hour, nil, true)
	_, err := client.Discover(context.Background(), server.URL)
	assert.Error(t, err)
}
