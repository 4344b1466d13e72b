// Путь: internal/service/webhook/handler.go
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
	"integrations-gateway/internal/metrics"
	repoInterface "integrations-gateway/internal/repository/interface"
)

// ErrBodyTooLarge - тело запроса больше Config.MaxBodyBytes
var ErrBodyTooLarge = errors.New("webhook body too large")

// Config - конфигурация приема вебхуков
type Config struct {
	// Timeout - провайдеры ждут ответ недолго (GitLab и Slack около 10 секунд)
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Request - входящий вебхук в том виде, в каком он пришел
type Request struct {
	Body    []byte
	Headers http.Header
	Query   url.Values
}

// Response - ответ провайдеру
type Response struct {
	Status int
	Body   interface{}
	Header http.Header
}

func jsonResponse(status int, body interface{}) Response {
	return Response{Status: status, Body: body}
}

func errorResponse(status int, message string) Response {
	return jsonResponse(status, map[string]string{"error": message})
}

// Handler - прием вебхуков: маршрутизация к интеграции, проверочные запросы
// провайдеров, проверка подписи и сохранение события
type Handler struct {
	repo     repoInterface.IntegrationRepository
	verifier *Verifier
	metrics  *metrics.Metrics
	config   Config
}

// NewHandler создает новый обработчик
func NewHandler(
	repo repoInterface.IntegrationRepository,
	verifier *Verifier,
	m *metrics.Metrics,
	config Config,
) *Handler {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		repo:     repo,
		verifier: verifier,
		metrics:  m,
		config:   config,
	}
}

// ReadBody читает сырое тело запроса с ограничением размера
func (h *Handler) ReadBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.config.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.config.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// Receive обрабатывает вебхук провайдера.
// Проверочные запросы (challenge) обрабатываются до проверки подписи: они не подписаны.
func (h *Handler) Receive(ctx context.Context, provider string, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	p := domain.Provider(provider)
	if !h.verifier.Supports(p) {
		h.metrics.Webhook(provider, "unsupported")
		return errorResponse(http.StatusNotFound, "unsupported provider")
	}
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	// рукопожатие Asana приходит без тела
	if len(req.Body) == 0 && !(p == domain.ProviderAsana && req.Headers.Get("X-Hook-Secret") != "") {
		return h.malformed(p, "empty body")
	}

	switch p {
	case domain.ProviderSlack:
		return h.handleSlack(ctx, req)
	case domain.ProviderGitHub:
		return h.handleGitHub(ctx, req)
	case domain.ProviderZoom:
		return h.handleZoom(ctx, req)
	case domain.ProviderAsana:
		return h.handleAsana(ctx, req)
	case domain.ProviderGitLab:
		return h.handleGitLab(ctx, req)
	case domain.ProviderJira:
		return h.handleJira(ctx, req)
	}
	return errorResponse(http.StatusNotFound, "unsupported provider")
}

func (h *Handler) malformed(provider domain.Provider, message string) Response {
	h.metrics.Webhook(provider.String(), "malformed")
	return errorResponse(http.StatusBadRequest, message)
}

func (h *Handler) notFound(provider domain.Provider) Response {
	h.metrics.Webhook(provider.String(), "unknown_integration")
	return errorResponse(http.StatusNotFound, "integration not found")
}

func (h *Handler) internalError(provider domain.Provider, err error, msg string) Response {
	log.Error().Err(err).Str("provider", provider.String()).Msg(msg)
	h.metrics.Webhook(provider.String(), "error")
	return errorResponse(http.StatusInternalServerError, "internal server error")
}

// lookup превращает результат поиска интеграции в ответ 404/500
func (h *Handler) lookup(provider domain.Provider, integration *domain.Integration, err error) (*domain.Integration, Response, bool) {
	if errors.Is(err, domain.ErrIntegrationNotFound) || (err == nil && integration.Provider != provider) {
		return nil, h.notFound(provider), false
	}
	if err != nil {
		return nil, h.internalError(provider, err, "Failed to load integration"), false
	}
	return integration, Response{}, true
}

// integrationFromQuery находит интеграцию по параметру ?id
func (h *Handler) integrationFromQuery(ctx context.Context, provider domain.Provider, req Request) (*domain.Integration, Response, bool) {
	id := req.Query.Get("id")
	if id == "" {
		return nil, h.notFound(provider), false
	}
	integration, err := h.repo.FindByID(ctx, id)
	return h.lookup(provider, integration, err)
}

// verifyAndStore ищет среди кандидатов интеграцию, чья подпись сходится, и сохраняет событие
func (h *Handler) verifyAndStore(ctx context.Context, provider domain.Provider, req Request, candidates []*domain.Integration, eventType string) Response {
	if len(candidates) == 0 {
		return h.notFound(provider)
	}

	var (
		matched *domain.Integration
		reason  string
	)
	for _, candidate := range candidates {
		result := h.verifier.verifyIntegration(provider, req.Body, req.Headers, candidate)
		if result.Valid {
			matched = candidate
			break
		}
		reason = result.Error
	}

	if matched == nil {
		log.Warn().
			Str("provider", provider.String()).
			Int("candidates", len(candidates)).
			Str("reason", reason).
			Msg("Webhook signature verification failed")
		h.metrics.Webhook(provider.String(), "invalid_signature")
		return errorResponse(http.StatusUnauthorized, "invalid signature")
	}

	eventID, err := h.verifier.StoreWebhookEvent(ctx, matched.ID, eventType, req.Body, req.Headers)
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return h.notFound(provider)
	}
	if err != nil {
		return h.internalError(provider, err, "Failed to store webhook event")
	}

	log.Info().
		Str("provider", provider.String()).
		Str("integration_id", matched.ID).
		Str("event_id", eventID).
		Str("event_type", eventType).
		Msg("Webhook event stored")
	h.metrics.Webhook(provider.String(), "verified")
	h.metrics.WebhookStored(provider.String())

	return jsonResponse(http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) challenge(provider domain.Provider, resp Response) Response {
	log.Info().Str("provider", provider.String()).Msg("Webhook challenge answered")
	h.metrics.Webhook(provider.String(), "challenge")
	return resp
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrIntegrationNotFound) {
		return nil
	}
	return err
}
