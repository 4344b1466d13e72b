// Путь: internal/transport/api/integrations.go
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/service/connect"
	"integrations-gateway/internal/service/credentials"
	"integrations-gateway/internal/service/encryption"
	"integrations-gateway/internal/service/oauth2client"
	"integrations-gateway/internal/transport/middleware"
)

// ReasonUnsupportedProvider - колбэк пришел для провайдера, который не настроен
const ReasonUnsupportedProvider = "unsupported_provider"

type IntegrationAPI struct {
	repo     repoInterface.IntegrationRepository
	store    *credentials.Store
	registry *connect.Registry
	appURL   string
	page     string
}

func NewIntegrationAPI(
	repo repoInterface.IntegrationRepository,
	store *credentials.Store,
	registry *connect.Registry,
	appURL string,
	page string,
) *IntegrationAPI {
	return &IntegrationAPI{
		repo:     repo,
		store:    store,
		registry: registry,
		appURL:   appURL,
		page:     page,
	}
}

// Authorize начинает подключение и возвращает адрес страницы согласия провайдера
func (api *IntegrationAPI) Authorize(c echo.Context) error {
	connector, ok := api.registry.Get(c.Param("provider"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unsupported provider"})
	}

	resp, err := connector.Authorize(c.Request().Context(), connect.AuthorizeRequest{
		OrganizationID: middleware.OrganizationID(c),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to start authorization"})
	}

	for _, cookie := range resp.Cookies {
		c.SetCookie(cookie)
	}

	return c.JSON(http.StatusOK, map[string]string{"redirectUrl": resp.RedirectURL})
}

// Callback принимает возврат от провайдера. Ответ всегда редирект на страницу интеграций.
func (api *IntegrationAPI) Callback(c echo.Context) error {
	connector, ok := api.registry.Get(c.Param("provider"))
	if !ok {
		result := &connect.CallbackResult{Reason: ReasonUnsupportedProvider}
		return c.Redirect(http.StatusFound, result.RedirectURL(api.appURL, api.page))
	}

	result := connector.Callback(c.Request().Context(), connect.CallbackRequest{
		Query:   c.QueryParams(),
		Cookies: c.Cookies(),
	})
	for _, cookie := range result.SetCookies {
		c.SetCookie(cookie)
	}

	return c.Redirect(http.StatusFound, result.RedirectURL(api.appURL, api.page))
}

// ConnectZoom подключает аккаунт Zoom без участия пользователя (server-to-server)
func (api *IntegrationAPI) ConnectZoom(c echo.Context) error {
	zoom, ok := api.registry.Zoom()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unsupported provider"})
	}

	result, err := zoom.ConnectAccount(c.Request().Context(), middleware.OrganizationID(c))
	if err != nil {
		var exchangeErr *oauth2client.TokenExchangeError
		switch {
		case errors.Is(err, connect.ErrAccountNotConfigured):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "zoom account is not configured"})
		case errors.As(err, &exchangeErr):
			return c.JSON(http.StatusBadGateway, map[string]string{"error": connect.ConnectionFailed(domain.ProviderZoom)})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to connect zoom account"})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Zoom account connected",
		"expiresIn": result.ExpiresIn,
	})
}

// Refresh обновляет access token по refresh token
func (api *IntegrationAPI) Refresh(c echo.Context) error {
	refresher, ok := api.registry.Refresher(c.Param("provider"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unsupported provider"})
	}

	integration, err := refresher.Refresh(c.Request().Context(), middleware.OrganizationID(c))
	if err != nil {
		var exchangeErr *oauth2client.TokenExchangeError
		switch {
		case errors.Is(err, domain.ErrIntegrationNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "integration not found"})
		case errors.Is(err, connect.ErrNoRefreshToken):
			return c.JSON(http.StatusConflict, map[string]string{"error": "integration has no refresh token"})
		case errors.As(err, &exchangeErr):
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "token refresh failed"})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to refresh token"})
		}
	}

	return c.JSON(http.StatusOK, integration)
}

// List возвращает интеграции организации. Токены и секреты в JSON не попадают.
func (api *IntegrationAPI) List(c echo.Context) error {
	integrations, err := api.store.List(c.Request().Context(), middleware.OrganizationID(c))
	if err != nil {
		log.Error().Err(err).Msg("failed to list integrations")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list integrations"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  integrations,
		"total": len(integrations),
	})
}

// Revoke отзывает интеграцию и стирает токены
func (api *IntegrationAPI) Revoke(c echo.Context) error {
	provider := domain.Provider(c.Param("provider"))
	orgID := middleware.OrganizationID(c)

	err := api.store.Revoke(c.Request().Context(), orgID, provider)
	switch {
	case err == nil:
		log.Info().Str("provider", provider.String()).Str("organization_id", orgID).Msg("integration revoked")
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, domain.ErrIntegrationNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "integration not found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": "integration already revoked"})
	default:
		log.Error().Err(err).Str("provider", provider.String()).Msg("failed to revoke integration")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to revoke integration"})
	}
}

type createRequest struct {
	Provider    string            `json:"provider"`
	DisplayName string            `json:"displayName"`
	Config      map[string]string `json:"config"`
}

// Create заводит интеграцию PENDING до начала авторизации
func (api *IntegrationAPI) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	if req.Provider == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "provider is required"})
	}

	orgID := middleware.OrganizationID(c)
	integration, err := api.store.Create(c.Request().Context(), orgID, domain.Provider(req.Provider), req.DisplayName, req.Config)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, map[string]interface{}{"data": integration})
	case errors.Is(err, domain.ErrIntegrationExists):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":         "integration already exists",
			"integrationId": integration.ID,
		})
	case errors.Is(err, credentials.ErrInvalidSettings):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Str("provider", req.Provider).Str("organization_id", orgID).Msg("failed to create integration")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create integration"})
	}
}

type updateRequest struct {
	Config        map[string]string `json:"config"`
	SyncEnabled   *bool             `json:"syncEnabled"`
	SyncFrequency *string           `json:"syncFrequency"`
}

// Update меняет config и настройки синхронизации. :provider - имя провайдера или UUID интеграции.
func (api *IntegrationAPI) Update(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}

	ref := c.Param("provider")
	integration, err := api.store.UpdateSettings(c.Request().Context(), middleware.OrganizationID(c), ref, domain.SettingsUpdate{
		Config:        req.Config,
		SyncEnabled:   req.SyncEnabled,
		SyncFrequency: req.SyncFrequency,
	})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{"data": integration})
	case errors.Is(err, domain.ErrIntegrationNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "integration not found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": "integration is revoked"})
	case errors.Is(err, credentials.ErrInvalidSettings):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Error().Err(err).Str("integration", ref).Msg("failed to update integration settings")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update configuration"})
	}
}

// Check проверяет, что сохраненный токен расшифровывается и не просрочен. Сам токен не отдается.
// Нерасшифровываемые учетные данные переводят интеграцию в ERROR.
func (api *IntegrationAPI) Check(c echo.Context) error {
	provider := domain.Provider(c.Param("provider"))
	orgID := middleware.OrganizationID(c)
	ctx := c.Request().Context()

	_, err := api.store.AccessToken(ctx, orgID, provider)
	body := map[string]interface{}{
		"provider": provider,
		"usable":   err == nil,
		"expired":  errors.Is(err, credentials.ErrTokenExpired),
	}
	switch {
	case err == nil, errors.Is(err, credentials.ErrTokenExpired), errors.Is(err, credentials.ErrNotUsable):
	case errors.Is(err, domain.ErrIntegrationNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "integration not found"})
	case errors.Is(err, encryption.ErrDecryption):
		body["error"] = "credentials cannot be decrypted, reconnect required"
	default:
		log.Error().Err(err).Str("provider", provider.String()).Str("organization_id", orgID).Msg("failed to check integration credentials")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to check integration"})
	}

	// статус читается после проверки: она могла перевести интеграцию в ERROR
	integration, err := api.store.Find(ctx, orgID, provider)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to check integration"})
	}
	body["status"] = integration.Status
	body["tokenExpiresAt"] = integration.TokenExpiresAt

	return c.JSON(http.StatusOK, body)
}

// Events возвращает последние события вебхуков интеграции
func (api *IntegrationAPI) Events(c echo.Context) error {
	provider := domain.Provider(c.Param("provider"))

	integration, err := api.store.Find(c.Request().Context(), middleware.OrganizationID(c), provider)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "integration not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load integration"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	events, err := api.repo.ListWebhookEvents(c.Request().Context(), integration.ID, limit)
	if err != nil {
		log.Error().Err(err).Str("integration_id", integration.ID).Msg("failed to list webhook events")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  events,
		"total": len(events),
		"limit": limit,
	})
}
