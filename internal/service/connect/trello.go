package connect

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/metrics"
	"integrations-gateway/internal/service/credentials"
	"integrations-gateway/internal/service/encryption"
	"integrations-gateway/internal/service/oauth1"
)

// Адреса Trello OAuth1.0a
const (
	TrelloRequestTokenURL = "https://trello.com/1/OAuthGetRequestToken"
	TrelloAuthorizeURL    = "https://trello.com/1/OAuthAuthorizeToken"
	TrelloAccessTokenURL  = "https://trello.com/1/OAuthGetAccessToken"
)

// Временные cookie живут столько же, сколько state OAuth2
const trelloCookieTTL = 10 * time.Minute

// TrelloPermissions - права токена, выданного со scope=read,write
var TrelloPermissions = []string{"read", "write"}

// TrelloConfig - ключи приложения Trello
type TrelloConfig struct {
	APIKey    string
	APISecret string
	AppName   string
	// URL переопределяются в тестах
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
}

// Configured - заданы ли ключи
func (c TrelloConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// TrelloConnector - трехшаговый OAuth1.0a. Секрет временного токена и организация
// между шагами хранятся в зашифрованных httpOnly cookie.
type TrelloConnector struct {
	deps   Deps
	client *oauth1.Client
	secure bool
	path   string
}

// NewTrello создает оркестратор Trello
func NewTrello(deps Deps, httpClient *http.Client, cfg TrelloConfig) *TrelloConnector {
	if cfg.RequestTokenURL == "" {
		cfg.RequestTokenURL = TrelloRequestTokenURL
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = TrelloAuthorizeURL
	}
	if cfg.AccessTokenURL == "" {
		cfg.AccessTokenURL = TrelloAccessTokenURL
	}
	if cfg.AppName == "" {
		cfg.AppName = "Integrations"
	}

	client := oauth1.NewClient(oauth1.Config{
		ConsumerKey:     cfg.APIKey,
		ConsumerSecret:  cfg.APISecret,
		RequestTokenURL: cfg.RequestTokenURL,
		AuthorizeURL:    cfg.AuthorizeURL,
		AccessTokenURL:  cfg.AccessTokenURL,
		AuthorizeParams: map[string]string{
			"name":       cfg.AppName,
			"scope":      "read,write",
			"expiration": "never",
		},
	}, httpClient)

	return &TrelloConnector{
		deps:   deps,
		client: client,
		secure: strings.HasPrefix(deps.BaseURL, "https://"),
		path:   "/api/integrations/" + domain.ProviderTrello.String(),
	}
}

// Provider возвращает провайдера
func (t *TrelloConnector) Provider() domain.Provider { return domain.ProviderTrello }

// Client возвращает OAuth1.0a клиента (подпись запросов к API Trello)
func (t *TrelloConnector) Client() *oauth1.Client { return t.client }

// Authorize получает временный токен и выставляет cookie с его секретом и организацией
func (t *TrelloConnector) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	provider := t.Provider()
	logger := log.With().
		Str("provider", provider.String()).
		Str("organization_id", req.OrganizationID).
		Str("stage", stageAuthorize).
		Logger()

	if _, err := t.deps.Store.EnsurePending(ctx, req.OrganizationID, provider); err != nil {
		logger.Error().Err(err).Msg("failed to create pending integration")
		t.deps.Metrics.OAuthFlow(provider.String(), stageAuthorize, metrics.ResultFailure)
		return nil, err
	}

	temp, err := t.client.GetRequestToken(ctx, RedirectURI(t.deps.BaseURL, provider))
	if err != nil {
		exchangeDetails(logger.Error(), err).Msg("trello request token failed")
		t.deps.Metrics.OAuthFlow(provider.String(), stageAuthorize, metrics.ResultFailure)
		return nil, err
	}

	secret, err := t.deps.Cipher.Seal(temp.Secret)
	if err != nil {
		return nil, err
	}
	org, err := t.deps.Cipher.Seal(req.OrganizationID)
	if err != nil {
		return nil, err
	}

	t.deps.Metrics.OAuthFlow(provider.String(), stageAuthorize, metrics.ResultSuccess)
	logger.Info().Msg("authorization started")

	return &AuthorizeResponse{
		RedirectURL: t.client.BuildAuthorizeURL(temp.Token),
		Cookies: []*http.Cookie{
			t.cookie(secretCookie(temp.Token), secret.Ciphertext(), trelloCookieTTL),
			t.cookie(orgCookie(temp.Token), org.Ciphertext(), trelloCookieTTL),
		},
	}, nil
}

// Callback меняет временный токен и verifier на постоянный токен.
// Секрет постоянного токена хранится в поле refresh_token.
func (t *TrelloConnector) Callback(ctx context.Context, req CallbackRequest) *CallbackResult {
	provider := t.Provider()
	result := &CallbackResult{Provider: provider}

	token := req.Query.Get("oauth_token")
	verifier := req.Query.Get("oauth_verifier")
	if token == "" || verifier == "" {
		log.Warn().Str("provider", provider.String()).Msg("callback without oauth_token or oauth_verifier")
		return t.fail(result, MissingParams(provider), errors.New("missing oauth_token or oauth_verifier"))
	}

	// cookie удаляются при любом исходе
	result.SetCookies = []*http.Cookie{
		t.cookie(secretCookie(token), "", -1),
		t.cookie(orgCookie(token), "", -1),
	}

	tokenSecret, errSecret := t.deps.Cipher.Open(encryption.SealedFromStorage(req.cookie(secretCookie(token))))
	orgID, errOrg := t.deps.Cipher.Open(encryption.SealedFromStorage(req.cookie(orgCookie(token))))
	if errSecret != nil || errOrg != nil || tokenSecret == "" || orgID == "" {
		log.Warn().Str("provider", provider.String()).Msg("trello session cookies missing or unreadable")
		return t.fail(result, SessionExpired(provider), errors.New("trello session expired"))
	}
	result.OrganizationID = orgID

	logger := log.With().
		Str("provider", provider.String()).
		Str("organization_id", orgID).
		Str("stage", stageCallback).
		Logger()

	access, err := t.client.GetAccessToken(ctx, token, verifier, tokenSecret)
	if err != nil {
		exchangeDetails(logger.Error(), err).Msg("trello access token exchange failed")
		markError(ctx, t.deps.Store, orgID, provider, "token exchange failed")
		return t.fail(result, ConnectionFailed(provider), err)
	}

	if _, err := t.store(ctx, orgID, access); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn().Err(err).Msg("integration revoked while authorization was in flight")
			return t.fail(result, ConnectionFailed(provider), err)
		}
		logger.Error().Err(err).Msg("failed to store integration credentials")
		markError(ctx, t.deps.Store, orgID, provider, "failed to store credentials")
		return t.fail(result, ReasonCallbackFailed, err)
	}

	t.deps.Metrics.OAuthFlow(provider.String(), stageCallback, metrics.ResultSuccess)
	logger.Info().Msg("integration connected")

	result.Success = true
	return result
}

func (t *TrelloConnector) store(ctx context.Context, organizationID string, access *oauth1.Credentials) (*domain.Integration, error) {
	accessToken, err := t.deps.Cipher.Seal(access.Token)
	if err != nil {
		return nil, err
	}
	tokenSecret, err := t.deps.Cipher.Seal(access.Secret)
	if err != nil {
		return nil, err
	}

	return t.deps.Store.UpsertIntegration(ctx, organizationID, t.Provider(), credentials.Fields{
		Status:       domain.StatusActive,
		Connected:    true,
		AccessToken:  accessToken,
		RefreshToken: tokenSecret,
		Permissions:  append([]string(nil), TrelloPermissions...),
	})
}

func (t *TrelloConnector) fail(result *CallbackResult, reason string, err error) *CallbackResult {
	t.deps.Metrics.OAuthFlow(t.Provider().String(), stageCallback, metrics.ResultFailure)
	result.Reason = reason
	result.Err = err
	return result
}

func (t *TrelloConnector) cookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     t.path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   t.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func secretCookie(token string) string { return "trello_secret_" + token }
func orgCookie(token string) string    { return "trello_org_" + token }
