package connect

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/metrics"
	"integrations-gateway/internal/service/credentials"
	"integrations-gateway/internal/service/oauth2client"
)

// ErrAccountNotConfigured - не задан ZOOM_ACCOUNT_ID
var ErrAccountNotConfigured = errors.New("zoom account id is not configured")

// ZoomConnector - пользовательский OAuth Zoom и серверное подключение аккаунта
type ZoomConnector struct {
	*OAuth2Connector
	accountID string
}

// ConnectResult - итог серверного подключения
type ConnectResult struct {
	Integration *domain.Integration
	ExpiresIn   int64
}

// NewZoom создает оркестратор Zoom. Zoom принимает ключи приложения только в Basic auth.
func NewZoom(deps Deps, client *oauth2client.Client, creds ClientCredentials, accountID string) *ZoomConnector {
	cfg := creds.config(ZoomAuthorizationURL, ZoomTokenURL, ZoomScopes, oauth2client.AuthStyleInHeader)
	return &ZoomConnector{
		OAuth2Connector: NewOAuth2(domain.ProviderZoom, deps, client, cfg, nil),
		accountID:       accountID,
	}
}

// ConnectAccount получает токен grant_type=account_credentials без участия пользователя
func (z *ZoomConnector) ConnectAccount(ctx context.Context, organizationID string) (*ConnectResult, error) {
	logger := log.With().
		Str("provider", z.provider.String()).
		Str("organization_id", organizationID).
		Str("stage", stageConnect).
		Logger()

	if z.accountID == "" {
		return nil, ErrAccountNotConfigured
	}

	// явное подключение равносильно новой авторизации: отозванная запись пересоздается
	if _, err := z.deps.Store.EnsurePending(ctx, organizationID, z.provider); err != nil {
		logger.Error().Err(err).Msg("failed to create pending integration")
		z.deps.Metrics.OAuthFlow(z.provider.String(), stageConnect, metrics.ResultFailure)
		return nil, err
	}

	cc := clientcredentials.Config{
		ClientID:     z.cfg.ClientID,
		ClientSecret: z.cfg.ClientSecret,
		TokenURL:     z.cfg.TokenURL,
		EndpointParams: url.Values{
			"grant_type": {"account_credentials"},
			"account_id": {z.accountID},
		},
		AuthStyle: oauth2.AuthStyleInHeader,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, z.client.HTTPClient())
	tok, err := cc.Token(ctx)
	if err != nil {
		err = retrieveError(err)
		exchangeDetails(logger.Error(), err).Msg("zoom account token request failed")
		z.markError(ctx, organizationID, "account token request failed")
		z.deps.Metrics.OAuthFlow(z.provider.String(), stageConnect, metrics.ResultFailure)
		return nil, err
	}

	accessToken, err := z.deps.Cipher.Seal(tok.AccessToken)
	if err != nil {
		return nil, err
	}

	permissions := z.cfg.Scopes
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		permissions = strings.Fields(scope)
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		at := tok.Expiry.UTC()
		expiresAt = &at
	}

	integration, err := z.deps.Store.UpsertIntegration(ctx, organizationID, z.provider, credentials.Fields{
		Status:         domain.StatusActive,
		Connected:      true,
		AccessToken:    accessToken,
		TokenExpiresAt: expiresAt,
		Permissions:    permissions,
		Config:         map[string]string{"account_id": z.accountID},
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store zoom account credentials")
		z.deps.Metrics.OAuthFlow(z.provider.String(), stageConnect, metrics.ResultFailure)
		return nil, err
	}

	z.deps.Metrics.OAuthFlow(z.provider.String(), stageConnect, metrics.ResultSuccess)
	logger.Info().Msg("zoom account connected")

	return &ConnectResult{Integration: integration, ExpiresIn: tok.ExpiresIn}, nil
}

// retrieveError приводит ошибку x/oauth2 к TokenExchangeError
func retrieveError(err error) error {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) {
		return err
	}
	status := 0
	if rErr.Response != nil {
		status = rErr.Response.StatusCode
	}
	return &oauth2client.TokenExchangeError{Status: status, Body: string(rErr.Body), Reason: rErr.ErrorCode}
}
