package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initialToken = "iat-secret-1"

func provisionToken(t *testing.T, srv *Server, multiUse bool) {
	t.Helper()
	require.NoError(t, srv.ProvisionInitialAccessToken(context.Background(), initialToken, time.Hour, multiUse))
}

func TestRegisterClient(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, false)
	ctx := context.Background()

	result, err := srv.RegisterClient(ctx, &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"https://app.example.com/callback"},
		ClientName:         "ground station console",
		IP:                 "10.0.0.1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Client.ClientID)
	assert.NotEmpty(t, result.ClientSecret)
	assert.False(t, result.Replayed)
	assert.Equal(t, AuthMethodClientSecretBasic, result.Client.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, result.Client.GrantTypes)

	// The released secret authenticates.
	_, err = srv.AuthenticateClient(ctx, result.Client.ClientID, result.ClientSecret)
	assert.NoError(t, err)
}

func TestRegisterClientConsumesToken(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, false)
	ctx := context.Background()

	_, err := srv.RegisterClient(ctx, &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"https://app.example.com/callback"},
		IP:                 "10.0.0.1",
	})
	require.NoError(t, err)

	// A different registration with the same single-use token fails.
	_, err = srv.RegisterClient(ctx, &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"https://other.example.com/callback"},
		IP:                 "10.0.0.1",
	})
	assert.ErrorIs(t, err, ErrRegistrationTokenInvalid)
}

func TestRegisterClientReplay(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, false)
	ctx := context.Background()

	req := &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"https://app.example.com/callback"},
		IP:                 "10.0.0.1",
	}

	first, err := srv.RegisterClient(ctx, req)
	require.NoError(t, err)

	// The identical retry succeeds idempotently but never re-releases the
	// secret.
	second, err := srv.RegisterClient(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Client.ClientID, second.Client.ClientID)
	assert.Empty(t, second.ClientSecret)
}

func TestRegisterClientConcurrent(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, false)
	ctx := context.Background()

	req := &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"https://app.example.com/callback"},
		IP:                 "10.0.0.1",
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *RegistrationResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result, err := srv.RegisterClient(ctx, req); err == nil {
				results <- result
			}
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	ids := map[string]bool{}
	for result := range results {
		ids[result.Client.ClientID] = true
		if !result.Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one request creates the registration")
	assert.Len(t, ids, 1, "every winner and replay sees the same identifier")
}

func TestRegisterClientRejectsBadToken(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	_, err := srv.RegisterClient(ctx, &RegistrationRequest{
		InitialAccessToken: "never-provisioned",
		RedirectURIs:       []string{"https://app.example.com/callback"},
	})
	assert.ErrorIs(t, err, ErrRegistrationTokenInvalid)

	_, err = srv.RegisterClient(ctx, &RegistrationRequest{
		RedirectURIs: []string{"https://app.example.com/callback"},
	})
	assert.ErrorIs(t, err, ErrRegistrationTokenInvalid)
}

func TestRegisterClientRejectsBadRedirects(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, true)
	ctx := context.Background()

	cases := []struct {
		name string
		uris []string
	}{
		{"empty set", nil},
		{"fragment", []string{"https://app.example.com/callback#frag"}},
		{"wildcard host", []string{"https://*.example.com/callback"}},
		{"plain http non-loopback", []string{"http://app.example.com/callback"}},
		{"relative", []string{"/callback"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := srv.RegisterClient(ctx, &RegistrationRequest{
				InitialAccessToken: initialToken,
				RedirectURIs:       tc.uris,
			})
			assert.ErrorIs(t, err, ErrRedirectURIRejected)
		})
	}
}

func TestRegisterClientAllowsLoopbackHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, true)

	result, err := srv.RegisterClient(context.Background(), &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"http://127.0.0.1:8123/callback"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ClientSecret)
}

func TestRegisterPublicClient(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	provisionToken(t, srv, true)
	ctx := context.Background()

	result, err := srv.RegisterClient(ctx, &RegistrationRequest{
		InitialAccessToken:      initialToken,
		RedirectURIs:            []string{"https://spa.example.com/callback"},
		TokenEndpointAuthMethod: AuthMethodNone,
	})
	require.NoError(t, err)
	assert.Empty(t, result.ClientSecret)

	// Public clients authenticate with no secret, and only with no secret.
	_, err = srv.AuthenticateClient(ctx, result.Client.ClientID, "")
	assert.NoError(t, err)
	_, err = srv.AuthenticateClient(ctx, result.Client.ClientID, "anything")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestRegisterClientIPLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, &Config{Issuer: "https://gw.example.com", MaxClientsPerIP: 2})
	provisionToken(t, srv, true)
	ctx := context.Background()

	for i, uri := range []string{"https://a.example.com/cb", "https://b.example.com/cb"} {
		_, err := srv.RegisterClient(ctx, &RegistrationRequest{
			InitialAccessToken: initialToken,
			RedirectURIs:       []string{uri},
			IP:                 "10.0.0.9",
		})
		require.NoError(t, err, "registration %d", i)
	}

	_, err := srv.RegisterClient(ctx, &RegistrationRequest{
		InitialAccessToken: initialToken,
		RedirectURIs:       []string{"https://c.example.com/cb"},
		IP:                 "10.0.0.9",
	})
	assert.Error(t, err)
}

func TestAuthenticateClient(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	client, err := srv.AuthenticateClient(ctx, testClientID, testClientSecret)
	require.NoError(t, err)
	assert.Equal(t, testClientID, client.ClientID)

	_, err = srv.AuthenticateClient(ctx, testClientID, "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = srv.AuthenticateClient(ctx, "", testClientSecret)
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = srv.AuthenticateClient(ctx, "unknown", "whatever")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestRevokedClientCannotAuthenticate(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, srv.RevokeClient(ctx, testClientID, "10.0.0.1"))

	_, err := srv.AuthenticateClient(ctx, testClientID, testClientSecret)
	assert.ErrorIs(t, err, ErrClientRevoked)
}

func TestRegisterStaticClientDuplicate(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	_, err := srv.RegisterStaticClient(context.Background(), testClientID, "other-secret", []string{testRedirectURI})
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)
}

func TestDeriveClientIDIsOrderInsensitive(t *testing.T) {
	a := deriveClientID("tok", []string{"https://a.example.com/cb", "https://b.example.com/cb"})
	b := deriveClientID("tok", []string{"https://b.example.com/cb", "https://a.example.com/cb"})
	assert.Equal(t, a, b)

	c := deriveClientID("other", []string{"https://a.example.com/cb", "https://b.example.com/cb"})
	assert.NotEqual(t, a, c)
}
