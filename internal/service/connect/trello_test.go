package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/service/oauth1"
)

func trelloProvider(t *testing.T, accessStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/request", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "OAuth "), auth)
		assert.Contains(t, auth, `oauth_consumer_key="trello-key"`)
		assert.Contains(t, auth, `oauth_callback="`+oauth1.Encode(RedirectURI(testBaseURL, domain.ProviderTrello))+`"`)
		_, _ = w.Write([]byte("oauth_token=tmp-token&oauth_token_secret=tmp-secret&oauth_callback_confirmed=true"))
	})
	mux.HandleFunc("/access", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.Contains(t, auth, `oauth_token="tmp-token"`)
		assert.Contains(t, auth, `oauth_verifier="verifier-1"`)
		if accessStatus != http.StatusOK {
			w.WriteHeader(accessStatus)
			_, _ = w.Write([]byte("invalid verifier"))
			return
		}
		_, _ = w.Write([]byte("oauth_token=perm-token&oauth_token_secret=perm-secret"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func trelloConnector(env *testEnv, srv *httptest.Server) *TrelloConnector {
	return NewTrello(env.deps, srv.Client(), TrelloConfig{
		APIKey:          "trello-key",
		APISecret:       "trello-secret",
		AppName:         "Acme",
		RequestTokenURL: srv.URL + "/request",
		AuthorizeURL:    srv.URL + "/authorize",
		AccessTokenURL:  srv.URL + "/access",
	})
}

func TestTrelloConnectFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := trelloProvider(t, http.StatusOK)
	connector := trelloConnector(env, srv)

	resp, err := connector.Authorize(context.Background(), AuthorizeRequest{OrganizationID: "42"})
	require.NoError(t, err)

	u, err := url.Parse(resp.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "tmp-token", u.Query().Get("oauth_token"))
	assert.Equal(t, "Acme", u.Query().Get("name"))
	assert.Equal(t, "read,write", u.Query().Get("scope"))
	assert.Equal(t, "never", u.Query().Get("expiration"))

	require.Len(t, resp.Cookies, 2)
	for _, c := range resp.Cookies {
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, 600, c.MaxAge)
		assert.NotContains(t, c.Value, "tmp-secret")
		assert.NotEqual(t, "42", c.Value)
	}
	assert.Equal(t, "trello_secret_tmp-token", resp.Cookies[0].Name)
	assert.Equal(t, "trello_org_tmp-token", resp.Cookies[1].Name)

	q := url.Values{"oauth_token": {"tmp-token"}, "oauth_verifier": {"verifier-1"}}
	result := connector.Callback(context.Background(), CallbackRequest{Query: q, Cookies: resp.Cookies})
	require.True(t, result.Success, "reason: %s, err: %v", result.Reason, result.Err)
	assert.Equal(t, "42", result.OrganizationID)
	assert.Equal(t, testAppURL+testPage+"?success=trello_connected", result.RedirectURL(testAppURL, testPage))

	require.Len(t, result.SetCookies, 2)
	for _, c := range result.SetCookies {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
	}

	integration, err := env.store.Find(context.Background(), "42", domain.ProviderTrello)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, integration.Status)
	assert.Equal(t, []string{"read", "write"}, integration.Permissions)
	assert.Nil(t, integration.TokenExpiresAt)

	token, err := env.cipher.Open(integration.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "perm-token", token)

	secret, err := env.store.RefreshToken(integration)
	require.NoError(t, err)
	assert.Equal(t, "perm-secret", secret)
}

func TestTrelloCallbackFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		query        url.Values
		cookies      func(authorized []*http.Cookie) []*http.Cookie
		accessStatus int
		wantReason   string
		wantErrored  bool
	}{
		{
			name:       "missing verifier",
			query:      url.Values{"oauth_token": {"tmp-token"}},
			wantReason: "trello_missing_params",
		},
		{
			name:       "cookies gone",
			query:      url.Values{"oauth_token": {"tmp-token"}, "oauth_verifier": {"verifier-1"}},
			cookies:    func([]*http.Cookie) []*http.Cookie { return nil },
			wantReason: "trello_session_expired",
		},
		{
			name:  "tampered cookie",
			query: url.Values{"oauth_token": {"tmp-token"}, "oauth_verifier": {"verifier-1"}},
			cookies: func(authorized []*http.Cookie) []*http.Cookie {
				return []*http.Cookie{
					{Name: authorized[0].Name, Value: "tmp-secret"},
					authorized[1],
				}
			},
			wantReason: "trello_session_expired",
		},
		{
			name:         "access token rejected",
			query:        url.Values{"oauth_token": {"tmp-token"}, "oauth_verifier": {"verifier-1"}},
			accessStatus: http.StatusUnauthorized,
			wantReason:   "trello_connection_failed",
			wantErrored:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status := tt.accessStatus
			if status == 0 {
				status = http.StatusOK
			}
			env := newTestEnv(t)
			connector := trelloConnector(env, trelloProvider(t, status))

			resp, err := connector.Authorize(context.Background(), AuthorizeRequest{OrganizationID: "42"})
			require.NoError(t, err)

			cookies := resp.Cookies
			if tt.cookies != nil {
				cookies = tt.cookies(resp.Cookies)
			}

			result := connector.Callback(context.Background(), CallbackRequest{Query: tt.query, Cookies: cookies})
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantReason, result.Reason)

			integration, err := env.store.Find(context.Background(), "42", domain.ProviderTrello)
			require.NoError(t, err)
			assert.False(t, integration.Connected)
			if tt.wantErrored {
				assert.Equal(t, domain.StatusError, integration.Status)
			} else {
				assert.Equal(t, domain.StatusPending, integration.Status)
			}
		})
	}
}
