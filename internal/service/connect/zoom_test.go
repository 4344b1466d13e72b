package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/service/oauth2client"
)

func zoomConnector(env *testEnv, tokenURL, accountID string) *ZoomConnector {
	return NewZoom(env.deps, oauth2client.New(5*time.Second), ClientCredentials{
		ClientID:     "zoom-client",
		ClientSecret: "zoom-secret",
		TokenURL:     tokenURL,
	}, accountID)
}

func TestZoomConnectAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "zoom-client", user)
		assert.Equal(t, "zoom-secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "account_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "acc-1", r.PostForm.Get("account_id"))
		assert.Empty(t, r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"zoom-s2s-token","token_type":"bearer","expires_in":3600,"scope":"meeting:read user:read"}`))
	}))
	t.Cleanup(srv.Close)

	result, err := zoomConnector(env, srv.URL, "acc-1").ConnectAccount(context.Background(), "42")
	require.NoError(t, err)
	assert.EqualValues(t, 3600, result.ExpiresIn)

	integration, err := env.store.Find(context.Background(), "42", domain.ProviderZoom)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, integration.Status)
	assert.True(t, integration.Connected)
	assert.Equal(t, []string{"meeting:read", "user:read"}, integration.Permissions)
	assert.Equal(t, "acc-1", integration.Config["account_id"])
	require.NotNil(t, integration.TokenExpiresAt)

	token, err := env.cipher.Open(integration.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "zoom-s2s-token", token)
}

func TestZoomConnectAccountFailures(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		_, err := zoomConnector(env, "http://127.0.0.1:1", "").ConnectAccount(context.Background(), "42")
		assert.ErrorIs(t, err, ErrAccountNotConfigured)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"reason":"Invalid client_id or client_secret","error":"invalid_client"}`))
		}))
		t.Cleanup(srv.Close)

		connector := zoomConnector(env, srv.URL, "acc-1")
		_, err := connector.Authorize(context.Background(), AuthorizeRequest{OrganizationID: "42"})
		require.NoError(t, err)

		_, err = connector.ConnectAccount(context.Background(), "42")
		var exchangeErr *oauth2client.TokenExchangeError
		require.ErrorAs(t, err, &exchangeErr)
		assert.Equal(t, http.StatusUnauthorized, exchangeErr.Status)
		assert.Equal(t, "invalid_client", exchangeErr.Reason)

		integration, err := env.store.Find(context.Background(), "42", domain.ProviderZoom)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusError, integration.Status)
	})
}

func TestZoomAuthorizeUsesHeaderAuthOnExchange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.NoError(t, r.ParseForm())
		assert.Empty(t, r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"zoom-user-token","refresh_token":"zoom-refresh","expires_in":3599}`))
	}))
	t.Cleanup(srv.Close)

	connector := zoomConnector(env, srv.URL, "")
	state, err := env.deps.Codec.Generate("zoom", "42")
	require.NoError(t, err)

	result := connector.Callback(context.Background(), CallbackRequest{Query: callbackQuery("zoom-code", state)})
	require.True(t, result.Success, "reason: %s", result.Reason)

	integration, err := env.store.Find(context.Background(), "42", domain.ProviderZoom)
	require.NoError(t, err)
	// scope не вернулся, права берутся из настроек
	assert.Equal(t, ZoomScopes, integration.Permissions)
}

func TestZoomConnectAccountAfterRevoke(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"zoom-s2s-token","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)

	connector := zoomConnector(env, srv.URL, "acc-1")
	ctx := context.Background()

	first, err := connector.ConnectAccount(ctx, "42")
	require.NoError(t, err)
	require.NoError(t, env.store.Revoke(ctx, "42", domain.ProviderZoom))

	second, err := connector.ConnectAccount(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, second.Integration.Status)
	assert.NotEqual(t, first.Integration.WebhookSecret.Ciphertext(), second.Integration.WebhookSecret.Ciphertext())
	assert.Equal(t, 1, env.repo.Count())
}
