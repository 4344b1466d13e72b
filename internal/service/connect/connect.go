package connect

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/metrics"
	"integrations-gateway/internal/service/credentials"
	"integrations-gateway/internal/service/encryption"
	"integrations-gateway/internal/service/oauth1"
	"integrations-gateway/internal/service/oauth2client"
	"integrations-gateway/internal/service/oauthstate"
)

// Коды причин, которые видит пользователь. Подробности остаются в серверном логе.
const (
	ReasonInvalidState   = "invalid_state"
	ReasonMissingParams  = "missing_params"
	ReasonCallbackFailed = "callback_failed"
)

// AuthDenied - пользователь отказал или провайдер вернул error
func AuthDenied(p domain.Provider) string { return p.String() + "_auth_denied" }

// ConnectionFailed - провайдер отклонил обмен
func ConnectionFailed(p domain.Provider) string { return p.String() + "_connection_failed" }

// SessionExpired - пропали cookie OAuth1.0a
func SessionExpired(p domain.Provider) string { return p.String() + "_session_expired" }

// MissingParams - в колбэке OAuth1.0a нет oauth_token или oauth_verifier
func MissingParams(p domain.Provider) string { return p.String() + "_missing_params" }

// Connected - код успеха
func Connected(p domain.Provider) string { return p.String() + "_connected" }

// Этапы для логов и метрик
const (
	stageAuthorize = "authorize"
	stageCallback  = "callback"
	stageRefresh   = "refresh"
	stageConnect   = "connect"
)

// AuthorizeRequest - начало подключения; организация уже проверена middleware
type AuthorizeRequest struct {
	OrganizationID string
}

// AuthorizeResponse - куда отправить браузер и какие cookie выставить
type AuthorizeResponse struct {
	RedirectURL string
	Cookies     []*http.Cookie
}

// CallbackRequest - параметры и cookie возврата от провайдера
type CallbackRequest struct {
	Query   url.Values
	Cookies []*http.Cookie
}

func (r CallbackRequest) cookie(name string) string {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// CallbackResult - итог колбэка. Ошибки не пробрасываются: каждая превращается в код причины.
type CallbackResult struct {
	Provider       domain.Provider
	OrganizationID string
	Success        bool
	Reason         string
	// SetCookies - cookie, которые нужно выставить (удаление временных cookie OAuth1.0a)
	SetCookies []*http.Cookie
	Err        error
}

// RedirectURL строит адрес страницы интеграций с success=<provider>_connected или error=<reason>
func (r *CallbackResult) RedirectURL(appURL, page string) string {
	q := url.Values{}
	if r.Success {
		q.Set("success", Connected(r.Provider))
	} else {
		q.Set("error", r.Reason)
	}
	return strings.TrimRight(appURL, "/") + page + "?" + q.Encode()
}

// Connector - поток подключения одного провайдера
type Connector interface {
	Provider() domain.Provider
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)
	Callback(ctx context.Context, req CallbackRequest) *CallbackResult
}

// CredentialStore - то, что оркестраторам нужно от хранилища учетных данных
type CredentialStore interface {
	UpsertIntegration(ctx context.Context, organizationID string, provider domain.Provider, fields credentials.Fields) (*domain.Integration, error)
	EnsurePending(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error)
	MarkError(ctx context.Context, organizationID string, provider domain.Provider, reason string) error
	Find(ctx context.Context, organizationID string, provider domain.Provider) (*domain.Integration, error)
	RefreshToken(integration *domain.Integration) (string, error)
}

var _ CredentialStore = (*credentials.Store)(nil)

// Deps - общие компоненты всех оркестраторов
type Deps struct {
	Codec   *oauthstate.Codec
	Ledger  oauthstate.Ledger
	Cipher  *encryption.Encryptor
	Store   CredentialStore
	Metrics *metrics.Metrics
	// BaseURL - внешний адрес сервиса, из него строится redirect_uri
	BaseURL string
}

func (d Deps) ledger() oauthstate.Ledger {
	if d.Ledger == nil {
		return oauthstate.NopLedger{}
	}
	return d.Ledger
}

// RedirectURI - адрес колбэка. Один и тот же для authorize и обмена кода:
// провайдеры сравнивают его побайтно.
func RedirectURI(baseURL string, provider domain.Provider) string {
	return strings.TrimRight(baseURL, "/") + "/api/integrations/" + provider.String() + "/callback"
}

// Registry - подключенные оркестраторы по провайдерам
type Registry struct {
	connectors map[domain.Provider]Connector
}

// NewRegistry собирает реестр; nil пропускаются
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[domain.Provider]Connector)}
	for _, c := range connectors {
		if c != nil {
			r.connectors[c.Provider()] = c
		}
	}
	return r
}

// Get возвращает оркестратор провайдера
func (r *Registry) Get(provider string) (Connector, bool) {
	c, ok := r.connectors[domain.Provider(provider)]
	return c, ok
}

// Zoom возвращает оркестратор Zoom, если он настроен
func (r *Registry) Zoom() (*ZoomConnector, bool) {
	c, ok := r.connectors[domain.ProviderZoom].(*ZoomConnector)
	return c, ok
}

// Refresher возвращает оркестратор, умеющий обновлять токен
func (r *Registry) Refresher(provider string) (Refresher, bool) {
	c, ok := r.connectors[domain.Provider(provider)].(Refresher)
	return c, ok
}

// Providers - настроенные провайдеры по алфавиту
func (r *Registry) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(r.connectors))
	for p := range r.connectors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Refresher обновляет access token по сохраненному refresh token
type Refresher interface {
	Refresh(ctx context.Context, organizationID string) (*domain.Integration, error)
}

// exchangeDetails добавляет в лог статус и тело ответа провайдера. Пользователь их не видит.
func exchangeDetails(ev *zerolog.Event, err error) *zerolog.Event {
	ev = ev.Err(err)

	var (
		oauth2Err  *oauth2client.TokenExchangeError
		requestErr *oauth1.RequestTokenError
		accessErr  *oauth1.AccessTokenError
	)
	switch {
	case errors.As(err, &oauth2Err):
		return ev.Int("status", oauth2Err.Status).Str("body", oauth2Err.Body)
	case errors.As(err, &requestErr):
		return ev.Int("status", requestErr.Status).Str("body", requestErr.Body)
	case errors.As(err, &accessErr):
		return ev.Int("status", accessErr.Status).Str("body", accessErr.Body)
	}
	return ev
}
