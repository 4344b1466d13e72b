package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integrations-gateway/internal/domain"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/repository/memory"
	"integrations-gateway/internal/service/encryption"
)

func newTestStore(t *testing.T) (*Store, *memory.IntegrationRepository, *encryption.Encryptor) {
	t.Helper()
	repo := memory.NewIntegrationRepository()
	cipher := encryption.NewEncryptor("credentials-test-key")
	return NewStore(repo, cipher), repo, cipher
}

func seal(t *testing.T, c *encryption.Encryptor, s string) encryption.Sealed {
	t.Helper()
	v, err := c.Seal(s)
	require.NoError(t, err)
	return v
}

func TestUpsertIntegrationIsIdempotent(t *testing.T) {
	t.Parallel()

	store, repo, cipher := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{
		Status:      domain.StatusActive,
		Connected:   true,
		AccessToken: seal(t, cipher, "xoxb-first"),
		Permissions: []string{"chat:write"},
		Config:      map[string]string{"team_id": "T1"},
	})
	require.NoError(t, err)
	require.False(t, first.WebhookSecret.IsZero())

	second, err := store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{
		Status:      domain.StatusActive,
		Connected:   true,
		AccessToken: seal(t, cipher, "xoxb-second"),
		Permissions: []string{"chat:write", "channels:read"},
		Config:      map[string]string{"team_name": "Acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.Count())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.WebhookSecret.Ciphertext(), second.WebhookSecret.Ciphertext())
	assert.Equal(t, []string{"chat:write", "channels:read"}, second.Permissions)
	assert.Equal(t, map[string]string{"team_id": "T1", "team_name": "Acme"}, second.Config)

	token, err := store.AccessToken(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-second", token)
}

func TestUpsertDefaults(t *testing.T) {
	t.Parallel()

	store, _, cipher := newTestStore(t)
	integration, err := store.UpsertIntegration(context.Background(), "7", domain.ProviderGitHub, Fields{
		Connected:   true,
		AccessToken: seal(t, cipher, "gho_x"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, integration.Status)
	assert.Equal(t, "GitHub", integration.DisplayName)

	secret, err := store.WebhookSecret(integration)
	require.NoError(t, err)
	assert.Len(t, secret, 64)
}

func TestEnsurePending(t *testing.T) {
	t.Parallel()

	store, _, cipher := newTestStore(t)
	ctx := context.Background()

	pending, err := store.EnsurePending(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.Status)

	active, err := store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{
		Connected:   true,
		AccessToken: seal(t, cipher, "xoxb"),
	})
	require.NoError(t, err)
	assert.Equal(t, pending.WebhookSecret.Ciphertext(), active.WebhookSecret.Ciphertext())

	// повторная авторизация не сбрасывает активную интеграцию
	again, err := store.EnsurePending(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, again.Status)

	require.NoError(t, store.Revoke(ctx, "42", domain.ProviderSlack))

	recreated, err := store.EnsurePending(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, recreated.Status)
	assert.Equal(t, active.ID, recreated.ID)
	assert.NotEqual(t, active.WebhookSecret.Ciphertext(), recreated.WebhookSecret.Ciphertext())
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	store, _, cipher := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertIntegration(ctx, "42", domain.ProviderZoom, Fields{
		Connected:    true,
		AccessToken:  seal(t, cipher, "at"),
		RefreshToken: seal(t, cipher, "rt"),
	})
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, "42", domain.ProviderZoom))

	revoked, err := store.Find(ctx, "42", domain.ProviderZoom)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, revoked.Status)
	assert.False(t, revoked.Connected)
	assert.True(t, revoked.AccessToken.IsZero())
	assert.True(t, revoked.RefreshToken.IsZero())

	err = store.Revoke(ctx, "42", domain.ProviderZoom)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = store.Revoke(ctx, "42", domain.ProviderTrello)
	assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
}

func TestUpsertDoesNotReviveRevoked(t *testing.T) {
	t.Parallel()

	store, _, cipher := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{Connected: true, AccessToken: seal(t, cipher, "old")})
	require.NoError(t, err)
	require.NoError(t, store.Revoke(ctx, "42", domain.ProviderSlack))

	_, err = store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{Connected: true, AccessToken: seal(t, cipher, "late")})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	revoked, err := store.Find(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, revoked.Status)
	assert.True(t, revoked.AccessToken.IsZero())

	// новая авторизация снова разрешает запись
	_, err = store.EnsurePending(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	reconnected, err := store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{Connected: true, AccessToken: seal(t, cipher, "new")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, reconnected.Status)
}

func TestAccessTokenDecryptFailureMarksError(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	ctx := context.Background()

	// токен зашифрован другим ключом, например до ротации
	foreign := encryption.NewEncryptor("rotated-away-key")
	_, err := store.UpsertIntegration(ctx, "42", domain.ProviderGitHub, Fields{
		Connected:   true,
		AccessToken: seal(t, foreign, "gho_old"),
	})
	require.NoError(t, err)

	_, err = store.AccessToken(ctx, "42", domain.ProviderGitHub)
	assert.ErrorIs(t, err, encryption.ErrDecryption)

	broken, err := store.Find(ctx, "42", domain.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, broken.Status)
	assert.NotEmpty(t, broken.ErrorMessage)

	_, err = store.AccessToken(ctx, "42", domain.ProviderGitHub)
	assert.ErrorIs(t, err, ErrNotUsable)
}

func TestAccessTokenExpired(t *testing.T) {
	t.Parallel()

	store, _, cipher := newTestStore(t)
	ctx := context.Background()

	expires := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err := store.UpsertIntegration(ctx, "42", domain.ProviderZoom, Fields{
		Connected:      true,
		AccessToken:    seal(t, cipher, "zoom-at"),
		TokenExpiresAt: &expires,
	})
	require.NoError(t, err)

	store.now = func() time.Time { return expires.Add(-time.Minute) }
	token, err := store.AccessToken(ctx, "42", domain.ProviderZoom)
	require.NoError(t, err)
	assert.Equal(t, "zoom-at", token)

	store.now = func() time.Time { return expires.Add(time.Minute) }
	_, err = store.AccessToken(ctx, "42", domain.ProviderZoom)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// просроченная, но активная интеграция не считается сломанной
	still, err := store.Find(ctx, "42", domain.ProviderZoom)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, still.Status)
}

func TestMarkError(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkError(ctx, "42", domain.ProviderSlack, "slack_auth_denied"))

	_, err := store.EnsurePending(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	require.NoError(t, store.MarkError(ctx, "42", domain.ProviderSlack, "slack_auth_denied"))

	integration, err := store.Find(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, integration.Status)
	assert.Equal(t, "slack_auth_denied", integration.ErrorMessage)
}

type failingRepo struct {
	repoInterface.IntegrationRepository
}

func (failingRepo) Upsert(context.Context, domain.IntegrationUpsert) (*domain.Integration, bool, error) {
	return nil, false, domain.Persistence("upsert integration", errors.New("connection refused"))
}

func TestUpsertPropagatesPersistenceError(t *testing.T) {
	t.Parallel()

	cipher := encryption.NewEncryptor("k")
	store := NewStore(failingRepo{}, cipher)

	_, err := store.UpsertIntegration(context.Background(), "42", domain.ProviderSlack, Fields{Connected: true})

	var pErr *domain.PersistenceError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "upsert integration", pErr.Op)
}

func TestCreate(t *testing.T) {
	t.Parallel()

	store, repo, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "42", domain.ProviderJira, "", map[string]string{"project": "HR"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, "Jira", created.DisplayName)
	assert.Equal(t, "HR", created.Config["project"])
	assert.True(t, created.SyncEnabled)
	assert.Equal(t, domain.DefaultSyncFrequency, created.SyncFrequency)
	assert.False(t, created.WebhookSecret.IsZero())

	existing, err := store.Create(ctx, "42", domain.ProviderJira, "Other", nil)
	require.ErrorIs(t, err, domain.ErrIntegrationExists)
	assert.Equal(t, created.ID, existing.ID)
	assert.Equal(t, 1, repo.Count())

	_, err = store.Create(ctx, "42", domain.Provider("myspace"), "", nil)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = store.Create(ctx, "42", domain.ProviderSlack, "", map[string]string{"team_id": "T999"})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	store, _, cipher := newTestStore(t)
	ctx := context.Background()

	integration, err := store.UpsertIntegration(ctx, "42", domain.ProviderSlack, Fields{
		Connected:   true,
		AccessToken: seal(t, cipher, "xoxb"),
		Config:      map[string]string{"team_id": "T1"},
	})
	require.NoError(t, err)

	disabled := false
	daily := "daily"
	weekly := "weekly"
	bogus := "every-second"

	tests := []struct {
		name     string
		org      string
		ref      string
		settings domain.SettingsUpdate
		wantErr  error
	}{
		{"by provider", "42", "slack", domain.SettingsUpdate{Config: map[string]string{"channel": "#hr"}, SyncFrequency: &daily}, nil},
		{"by id", "42", integration.ID, domain.SettingsUpdate{SyncEnabled: &disabled, SyncFrequency: &weekly}, nil},
		{"id of other organization", "43", integration.ID, domain.SettingsUpdate{SyncEnabled: &disabled}, domain.ErrIntegrationNotFound},
		{"unknown provider", "42", "zoom", domain.SettingsUpdate{}, domain.ErrIntegrationNotFound},
		{"managed key", "42", "slack", domain.SettingsUpdate{Config: map[string]string{"team_id": "T2"}}, ErrInvalidSettings},
		{"bad frequency", "42", "slack", domain.SettingsUpdate{SyncFrequency: &bogus}, ErrInvalidSettings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.UpdateSettings(ctx, tt.org, tt.ref, tt.settings)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	updated, err := store.Find(ctx, "42", domain.ProviderSlack)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team_id": "T1", "channel": "#hr"}, updated.Config)
	assert.False(t, updated.SyncEnabled)
	assert.Equal(t, "weekly", updated.SyncFrequency)

	require.NoError(t, store.Revoke(ctx, "42", domain.ProviderSlack))
	_, err = store.UpdateSettings(ctx, "42", "slack", domain.SettingsUpdate{SyncEnabled: &disabled})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
