package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/metrics"
	"integrations-gateway/internal/repository/memory"
	"integrations-gateway/internal/service/encryption"
)

type handlerFixture struct {
	handler *Handler
	repo    *memory.IntegrationRepository
	cipher  *encryption.Encryptor
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	v, repo, cipher := newVerifierFixture(t)
	return &handlerFixture{
		handler: NewHandler(repo, v, metrics.New(), Config{Timeout: time.Second}),
		repo:    repo,
		cipher:  cipher,
	}
}

func (f *handlerFixture) events(t *testing.T, integrationID string) []*domain.WebhookEvent {
	t.Helper()
	events, err := f.repo.ListWebhookEvents(context.Background(), integrationID, 0)
	require.NoError(t, err)
	return events
}

func TestReceiveSlack(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	integration := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderSlack, testSecret, map[string]string{"team_id": "T123"})
	ctx := context.Background()

	t.Run("url verification is answered before signature check", func(t *testing.T) {
		body := []byte(`{"token":"x","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`)
		resp := f.handler.Receive(ctx, "slack", Request{Body: body, Headers: headers()})
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, map[string]string{"challenge": "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}, resp.Body)
	})

	t.Run("signed event is stored", func(t *testing.T) {
		body := []byte(`{"type":"event_callback","team_id":"T123","event":{"type":"app_mention"}}`)
		resp := f.handler.Receive(ctx, "slack", Request{Body: body, Headers: slackHeaders(testSecret, body, fixedNow)})
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, map[string]bool{"ok": true}, resp.Body)

		events := f.events(t, integration.ID)
		require.Len(t, events, 1)
		assert.Equal(t, "app_mention", events[0].EventType)
	})

	t.Run("bad signature is rejected and not stored", func(t *testing.T) {
		body := []byte(`{"type":"event_callback","team_id":"T123","event":{"type":"app_mention"}}`)
		signed := slackHeaders(testSecret, body, fixedNow)
		tampered := bytes.Replace(body, []byte("app_mention"), []byte("app_mentioN"), 1)

		resp := f.handler.Receive(ctx, "slack", Request{Body: tampered, Headers: signed})
		assert.Equal(t, http.StatusUnauthorized, resp.Status)
		assert.Len(t, f.events(t, integration.ID), 1)
	})

	t.Run("unknown team", func(t *testing.T) {
		body := []byte(`{"type":"event_callback","team_id":"T999"}`)
		resp := f.handler.Receive(ctx, "slack", Request{Body: body, Headers: slackHeaders(testSecret, body, fixedNow)})
		assert.Equal(t, http.StatusNotFound, resp.Status)
	})

	t.Run("malformed", func(t *testing.T) {
		resp := f.handler.Receive(ctx, "slack", Request{Body: []byte(`{not json`), Headers: headers()})
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})

	t.Run("slash command form", func(t *testing.T) {
		body := []byte(url.Values{"team_id": {"T123"}, "command": {"/attend"}}.Encode())
		h := slackHeaders(testSecret, body, fixedNow)
		h.Set("Content-Type", "application/x-www-form-urlencoded")

		resp := f.handler.Receive(ctx, "slack", Request{Body: body, Headers: h})
		assert.Equal(t, http.StatusOK, resp.Status)
	})
}

func TestReceiveGitHub(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	first := addIntegration(t, f.repo, f.cipher, "1", domain.ProviderGitHub, "secret-one", nil)
	second := addIntegration(t, f.repo, f.cipher, "2", domain.ProviderGitHub, "secret-two", nil)
	ctx := context.Background()

	body := []byte(`{"action":"opened","pull_request":{"number":1}}`)
	signedBy := func(secret, event string) http.Header {
		return headers("X-GitHub-Event", event, "X-Hub-Signature-256", "sha256="+hmacSHA256Hex(secret, body))
	}

	tests := []struct {
		name       string
		headers    http.Header
		query      url.Values
		body       []byte
		wantStatus int
		storedFor  string
	}{
		{"ping", signedBy("secret-one", "ping"), nil, body, http.StatusOK, ""},
		{"missing headers", headers("X-GitHub-Event", "push"), nil, body, http.StatusBadRequest, ""},
		{"invalid json", signedBy("secret-one", "push"), nil, []byte(`{`), http.StatusBadRequest, ""},
		{"scan all connected", signedBy("secret-two", "pull_request"), nil, body, http.StatusOK, second.ID},
		{"by org", signedBy("secret-one", "pull_request"), url.Values{"orgId": {"1"}}, body, http.StatusOK, first.ID},
		{"by org wrong secret", signedBy("secret-two", "pull_request"), url.Values{"orgId": {"1"}}, body, http.StatusUnauthorized, ""},
		{"by id", signedBy("secret-one", "push"), url.Values{"id": {first.ID}}, body, http.StatusOK, first.ID},
		{"unknown org", signedBy("secret-one", "push"), url.Values{"orgId": {"404"}}, body, http.StatusNotFound, ""},
		{"no secret matches", signedBy("secret-three", "push"), nil, body, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.events(t, first.ID)) + len(f.events(t, second.ID))

			resp := f.handler.Receive(ctx, "github", Request{Body: tt.body, Headers: tt.headers, Query: tt.query})
			assert.Equal(t, tt.wantStatus, resp.Status)

			after := len(f.events(t, first.ID)) + len(f.events(t, second.ID))
			if tt.storedFor == "" {
				assert.Equal(t, before, after)
				return
			}
			assert.Equal(t, before+1, after)
			events := f.events(t, tt.storedFor)
			require.NotEmpty(t, events)
			assert.JSONEq(t, string(tt.body), string(events[0].Payload))
		})
	}
}

func TestReceiveZoom(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	integration := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderZoom, testSecret, map[string]string{"account_id": "acc-1"})
	ctx := context.Background()

	t.Run("url validation", func(t *testing.T) {
		body := []byte(`{"event":"endpoint.url_validation","payload":{"plainToken":"qgg8vlvZRS6UYooatFL8Aw"}}`)
		resp := f.handler.Receive(ctx, "zoom", Request{Body: body, Query: url.Values{"id": {integration.ID}}})
		require.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, map[string]string{
			"plainToken":     "qgg8vlvZRS6UYooatFL8Aw",
			"encryptedToken": hmacSHA256Hex(testSecret, []byte("qgg8vlvZRS6UYooatFL8Aw")),
		}, resp.Body)
	})

	t.Run("event routed by account", func(t *testing.T) {
		body := []byte(`{"event":"meeting.started","payload":{"account_id":"acc-1"}}`)
		resp := f.handler.Receive(ctx, "zoom", Request{Body: body, Headers: zoomHeaders(testSecret, body, fixedNow)})
		assert.Equal(t, http.StatusOK, resp.Status)

		events := f.events(t, integration.ID)
		require.Len(t, events, 1)
		assert.Equal(t, "meeting.started", events[0].EventType)
	})

	t.Run("event without event field", func(t *testing.T) {
		resp := f.handler.Receive(ctx, "zoom", Request{Body: []byte(`{}`)})
		assert.Equal(t, http.StatusBadRequest, resp.Status)
	})
}

func TestReceiveAsanaHandshakeThenEvent(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	integration := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderAsana, "initial", nil)
	ctx := context.Background()
	query := url.Values{"id": {integration.ID}}

	resp := f.handler.Receive(ctx, "asana", Request{Headers: headers("X-Hook-Secret", "asana-hook-secret"), Query: query})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "asana-hook-secret", resp.Header.Get("X-Hook-Secret"))

	body := []byte(`{"events":[{"action":"changed","resource":{"gid":"1","resource_type":"task"}}]}`)
	resp = f.handler.Receive(ctx, "asana", Request{
		Body:    body,
		Headers: headers("X-Hook-Signature", hmacSHA256Hex("asana-hook-secret", body)),
		Query:   query,
	})
	assert.Equal(t, http.StatusOK, resp.Status)

	events := f.events(t, integration.ID)
	require.Len(t, events, 1)
	assert.Equal(t, "task.changed", events[0].EventType)
}

func TestReceiveAsanaRejectsRepeatedHandshake(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	integration := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderAsana, "initial", nil)
	ctx := context.Background()
	query := url.Values{"id": {integration.ID}}

	resp := f.handler.Receive(ctx, "asana", Request{Headers: headers("X-Hook-Secret", "legit"), Query: query})
	require.Equal(t, http.StatusOK, resp.Status)

	resp = f.handler.Receive(ctx, "asana", Request{Headers: headers("X-Hook-Secret", "attacker"), Query: query})
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Empty(t, resp.Header.Get("X-Hook-Secret"))

	stored, err := f.repo.FindByID(ctx, integration.ID)
	require.NoError(t, err)
	secret, err := f.cipher.Open(stored.WebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, "legit", secret)
	assert.Equal(t, "true", stored.Config[AsanaHookEstablished])

	body := []byte(`{"events":[{"action":"added","resource":{"gid":"2","resource_type":"task"}}]}`)
	tests := []struct {
		name       string
		secret     string
		wantStatus int
	}{
		{"forged with replaced secret", "attacker", http.StatusUnauthorized},
		{"signed with established secret", "legit", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.handler.Receive(ctx, "asana", Request{
				Body:    body,
				Headers: headers("X-Hook-Signature", hmacSHA256Hex(tt.secret, body)),
				Query:   query,
			})
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}

	assert.Len(t, f.events(t, integration.ID), 1)
}

func TestReceiveAsanaHandshakeForRevokedIntegration(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	integration := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderAsana, "initial", nil)
	ctx := context.Background()
	require.NoError(t, f.repo.Revoke(ctx, integration.ID))

	resp := f.handler.Receive(ctx, "asana", Request{
		Headers: headers("X-Hook-Secret", "attacker"),
		Query:   url.Values{"id": {integration.ID}},
	})
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestReceiveTokenProviders(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	gitlab := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderGitLab, testSecret, nil)
	jira := addIntegration(t, f.repo, f.cipher, "42", domain.ProviderJira, testSecret, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		provider   string
		id         string
		headers    http.Header
		body       string
		wantStatus int
	}{
		{"gitlab ok", "gitlab", gitlab.ID, headers("X-Gitlab-Token", testSecret, "X-Gitlab-Event", "Push Hook"), `{"object_kind":"push"}`, http.StatusOK},
		{"gitlab bad token", "gitlab", gitlab.ID, headers("X-Gitlab-Token", "nope"), `{"object_kind":"push"}`, http.StatusUnauthorized},
		{"gitlab missing id", "gitlab", "", headers("X-Gitlab-Token", testSecret), `{"object_kind":"push"}`, http.StatusNotFound},
		{"gitlab id of other provider", "gitlab", jira.ID, headers("X-Gitlab-Token", testSecret), `{"object_kind":"push"}`, http.StatusNotFound},
		{"jira ok", "jira", jira.ID, headers("X-Webhook-Token", testSecret), `{"webhookEvent":"jira:issue_created"}`, http.StatusOK},
		{"jira malformed", "jira", jira.ID, headers("X-Webhook-Token", testSecret), `[`, http.StatusBadRequest},
		{"empty body", "jira", jira.ID, headers("X-Webhook-Token", testSecret), ``, http.StatusBadRequest},
		{"unsupported provider", "trello", "", headers(), `{}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.handler.Receive(ctx, tt.provider, Request{
				Body:    []byte(tt.body),
				Headers: tt.headers,
				Query:   url.Values{"id": {tt.id}},
			})
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}

	gitlabEvents := f.events(t, gitlab.ID)
	require.Len(t, gitlabEvents, 1)
	assert.Equal(t, "Push Hook", gitlabEvents[0].EventType)

	jiraEvents := f.events(t, jira.ID)
	require.Len(t, jiraEvents, 1)
	assert.Equal(t, "jira:issue_created", jiraEvents[0].EventType)
}

func TestReadBodyLimit(t *testing.T) {
	t.Parallel()

	v, repo, _ := newVerifierFixture(t)
	h := NewHandler(repo, v, nil, Config{MaxBodyBytes: 8})

	body, err := h.ReadBody(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("12345678")))
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(body))

	_, err = h.ReadBody(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("123456789")))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
