package connect

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/metrics"
	"integrations-gateway/internal/service/credentials"
	"integrations-gateway/internal/service/oauth2client"
	"integrations-gateway/internal/service/oauthstate"
)

// ErrNoRefreshToken - у интеграции нет refresh token, нужна повторная авторизация
var ErrNoRefreshToken = errors.New("integration has no refresh token")

// EnrichFunc извлекает из ответа провайдера значения для config интеграции
type EnrichFunc func(token *oauth2client.Token) map[string]string

// OAuth2Connector - поток authorization code для одного провайдера
type OAuth2Connector struct {
	provider domain.Provider
	deps     Deps
	client   *oauth2client.Client
	cfg      oauth2client.Config
	enrich   EnrichFunc
	now      func() time.Time
}

// NewOAuth2 создает оркестратор. RedirectURI в cfg подставляется из deps.BaseURL, если пуст.
func NewOAuth2(provider domain.Provider, deps Deps, client *oauth2client.Client, cfg oauth2client.Config, enrich EnrichFunc) *OAuth2Connector {
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = RedirectURI(deps.BaseURL, provider)
	}
	return &OAuth2Connector{
		provider: provider,
		deps:     deps,
		client:   client,
		cfg:      cfg,
		enrich:   enrich,
		now:      time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (c *OAuth2Connector) WithClock(now func() time.Time) *OAuth2Connector {
	c.now = now
	return c
}

// Provider возвращает провайдера
func (c *OAuth2Connector) Provider() domain.Provider { return c.provider }

// Config возвращает параметры провайдера
func (c *OAuth2Connector) Config() oauth2client.Config { return c.cfg }

// Authorize создает запись PENDING, выпускает state и возвращает адрес страницы согласия
func (c *OAuth2Connector) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	logger := log.With().
		Str("provider", c.provider.String()).
		Str("organization_id", req.OrganizationID).
		Str("stage", stageAuthorize).
		Logger()

	if _, err := c.deps.Store.EnsurePending(ctx, req.OrganizationID, c.provider); err != nil {
		logger.Error().Err(err).Msg("failed to create pending integration")
		c.deps.Metrics.OAuthFlow(c.provider.String(), stageAuthorize, metrics.ResultFailure)
		return nil, err
	}

	state, err := c.deps.Codec.Generate(c.provider.String(), req.OrganizationID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to generate oauth state")
		c.deps.Metrics.OAuthFlow(c.provider.String(), stageAuthorize, metrics.ResultFailure)
		return nil, err
	}

	c.deps.Metrics.OAuthFlow(c.provider.String(), stageAuthorize, metrics.ResultSuccess)
	logger.Info().Msg("authorization started")

	return &AuthorizeResponse{RedirectURL: c.client.BuildAuthorizationURL(c.cfg, state)}, nil
}

// Callback проверяет state, меняет код на токены и сохраняет их в зашифрованном виде
func (c *OAuth2Connector) Callback(ctx context.Context, req CallbackRequest) *CallbackResult {
	result := &CallbackResult{Provider: c.provider}
	q := req.Query

	// state проверяется и при отказе, чтобы перевести интеграцию в ERROR
	state, stateErr := c.deps.Codec.Verify(q.Get("state"))
	if stateErr == nil && state.Provider != c.provider.String() {
		stateErr = &oauthstate.InvalidStateError{Reason: "provider mismatch"}
	}
	if stateErr == nil {
		result.OrganizationID = state.OrganizationID
	}

	logger := log.With().
		Str("provider", c.provider.String()).
		Str("organization_id", result.OrganizationID).
		Str("stage", stageCallback).
		Logger()

	if providerErr := q.Get("error"); providerErr != "" {
		logger.Warn().
			Str("error", providerErr).
			Str("error_description", q.Get("error_description")).
			Msg("provider returned authorization error")
		if stateErr == nil {
			c.markError(ctx, result.OrganizationID, "authorization denied: "+providerErr)
		}
		return c.fail(result, AuthDenied(c.provider), errors.New(providerErr))
	}

	if q.Get("code") == "" || q.Get("state") == "" {
		logger.Warn().Msg("callback without code or state")
		return c.fail(result, ReasonMissingParams, errors.New("missing code or state"))
	}

	if stateErr != nil {
		logger.Warn().Err(stateErr).Msg("oauth state rejected")
		return c.fail(result, ReasonInvalidState, stateErr)
	}

	fresh, err := c.deps.ledger().Consume(ctx, state.Nonce, c.deps.Codec.TTL())
	if err != nil {
		logger.Error().Err(err).Msg("failed to record oauth state nonce")
		return c.fail(result, ReasonCallbackFailed, err)
	}
	if !fresh {
		logger.Warn().Msg("oauth state replayed")
		return c.fail(result, ReasonInvalidState, &oauthstate.InvalidStateError{Reason: "state already used"})
	}

	token, err := c.client.ExchangeCodeForToken(ctx, c.cfg, q.Get("code"))
	if err != nil {
		exchangeDetails(logger.Error(), err).Msg("token exchange failed")
		c.markError(ctx, result.OrganizationID, "token exchange failed")
		return c.fail(result, ConnectionFailed(c.provider), err)
	}

	if _, err := c.store(ctx, result.OrganizationID, token, nil); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn().Err(err).Msg("integration revoked while authorization was in flight")
			return c.fail(result, ConnectionFailed(c.provider), err)
		}
		logger.Error().Err(err).Msg("failed to store integration credentials")
		c.markError(ctx, result.OrganizationID, "failed to store credentials")
		return c.fail(result, ReasonCallbackFailed, err)
	}

	c.deps.Metrics.OAuthFlow(c.provider.String(), stageCallback, metrics.ResultSuccess)
	logger.Info().Msg("integration connected")

	result.Success = true
	return result
}

// Refresh обновляет access token по сохраненному refresh token
func (c *OAuth2Connector) Refresh(ctx context.Context, organizationID string) (*domain.Integration, error) {
	logger := log.With().
		Str("provider", c.provider.String()).
		Str("organization_id", organizationID).
		Str("stage", stageRefresh).
		Logger()

	integration, err := c.deps.Store.Find(ctx, organizationID, c.provider)
	if err != nil {
		return nil, err
	}

	refreshToken, err := c.deps.Store.RefreshToken(integration)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open refresh token")
		c.markError(ctx, organizationID, "credentials cannot be decrypted, reconnect required")
		c.deps.Metrics.OAuthFlow(c.provider.String(), stageRefresh, metrics.ResultFailure)
		return nil, err
	}
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	token, err := c.client.RefreshToken(ctx, c.cfg, refreshToken)
	if err != nil {
		exchangeDetails(logger.Error(), err).Msg("token refresh failed")
		c.markError(ctx, organizationID, "token refresh failed")
		c.deps.Metrics.OAuthFlow(c.provider.String(), stageRefresh, metrics.ResultFailure)
		return nil, err
	}

	updated, err := c.store(ctx, organizationID, token, integration)
	if err != nil {
		logger.Error().Err(err).Msg("failed to store refreshed credentials")
		c.deps.Metrics.OAuthFlow(c.provider.String(), stageRefresh, metrics.ResultFailure)
		return nil, err
	}

	c.deps.Metrics.OAuthFlow(c.provider.String(), stageRefresh, metrics.ResultSuccess)
	logger.Info().Msg("integration token refreshed")
	return updated, nil
}

// store шифрует токены и делает ровно один upsert.
// previous - текущая запись при refresh: провайдер может не вернуть новый refresh token или scope.
func (c *OAuth2Connector) store(ctx context.Context, organizationID string, token *oauth2client.Token, previous *domain.Integration) (*domain.Integration, error) {
	accessToken, err := c.deps.Cipher.Seal(token.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := c.deps.Cipher.Seal(token.RefreshToken)
	if err != nil {
		return nil, err
	}

	permissions := token.Permissions()
	if len(permissions) == 0 {
		permissions = append([]string(nil), c.cfg.Scopes...)
	}
	if previous != nil {
		if token.RefreshToken == "" {
			refreshToken = previous.RefreshToken
		}
		if token.Scope == "" {
			permissions = previous.Permissions
		}
	}

	var config map[string]string
	if c.enrich != nil {
		config = c.enrich(token)
	}

	return c.deps.Store.UpsertIntegration(ctx, organizationID, c.provider, credentials.Fields{
		Status:         domain.StatusActive,
		Connected:      true,
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		TokenExpiresAt: token.ExpiresAt(c.now()),
		Permissions:    permissions,
		Config:         config,
	})
}

func (c *OAuth2Connector) fail(result *CallbackResult, reason string, err error) *CallbackResult {
	c.deps.Metrics.OAuthFlow(c.provider.String(), stageCallback, metrics.ResultFailure)
	result.Reason = reason
	result.Err = err
	return result
}

func (c *OAuth2Connector) markError(ctx context.Context, organizationID, reason string) {
	markError(ctx, c.deps.Store, organizationID, c.provider, reason)
}

func markError(ctx context.Context, store CredentialStore, organizationID string, provider domain.Provider, reason string) {
	if organizationID == "" {
		return
	}
	if err := store.MarkError(ctx, organizationID, provider, reason); err != nil {
		log.Error().
			Err(err).
			Str("provider", provider.String()).
			Str("organization_id", organizationID).
			Msg("failed to mark integration as errored")
	}
}
