package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
	repoInterface "integrations-gateway/internal/repository/interface"
	"integrations-gateway/internal/service/encryption"
)

// ErrSignatureVerification - подпись вебхука не прошла проверку; событие не сохраняется
var ErrSignatureVerification = errors.New("webhook signature verification failed")

// Result - итог проверки подписи
type Result struct {
	Valid bool
	Error string
}

func invalid(reason string) Result { return Result{Valid: false, Error: reason} }

// SignedRequest - все, что нужно схеме подписи. Body - сырые байты запроса.
type SignedRequest struct {
	Body      []byte
	Headers   http.Header
	Secret    string
	Now       time.Time
	Tolerance time.Duration
}

// Scheme проверяет подпись одного провайдера.
// Сравнение секретов только через hmac.Equal или subtle.ConstantTimeCompare.
type Scheme func(req SignedRequest) Result

// Verifier проверяет подписи входящих вебхуков секретом интеграции
type Verifier struct {
	repo      repoInterface.IntegrationRepository
	cipher    *encryption.Encryptor
	schemes   map[domain.Provider]Scheme
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier создает проверяющего со стандартным набором схем
func NewVerifier(repo repoInterface.IntegrationRepository, cipher *encryption.Encryptor, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		repo:      repo,
		cipher:    cipher,
		schemes:   DefaultSchemes(),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Supports сообщает, есть ли схема подписи для провайдера
func (v *Verifier) Supports(provider domain.Provider) bool {
	_, ok := v.schemes[provider]
	return ok
}

// VerifySignature находит секрет интеграции и проверяет подпись над сырым телом
func (v *Verifier) VerifySignature(ctx context.Context, provider domain.Provider, rawBody []byte, headers http.Header, integrationID string) (Result, error) {
	integration, err := v.repo.FindByID(ctx, integrationID)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return invalid("webhook secret not found"), err
		}
		return invalid("webhook secret unavailable"), err
	}
	if integration.Provider != provider {
		return invalid("webhook secret not found"), domain.ErrIntegrationNotFound
	}
	return v.verifyIntegration(provider, rawBody, headers, integration), nil
}

func (v *Verifier) verifyIntegration(provider domain.Provider, rawBody []byte, headers http.Header, integration *domain.Integration) Result {
	scheme, ok := v.schemes[provider]
	if !ok {
		return invalid(fmt.Sprintf("unsupported provider: %s", provider))
	}
	if integration.WebhookSecret.IsZero() {
		return invalid("webhook secret not found")
	}

	secret, err := v.cipher.Open(integration.WebhookSecret)
	if err != nil {
		log.Error().
			Err(err).
			Str("integration_id", integration.ID).
			Str("provider", provider.String()).
			Msg("webhook secret cannot be decrypted")
		return invalid("webhook secret unavailable")
	}

	return scheme(SignedRequest{
		Body:      rawBody,
		Headers:   headers,
		Secret:    secret,
		Now:       v.now(),
		Tolerance: v.tolerance,
	})
}

// secretFor расшифровывает секрет для ответов на проверочные запросы (Zoom)
func (v *Verifier) secretFor(integration *domain.Integration) (string, error) {
	return v.cipher.Open(integration.WebhookSecret)
}

// StoreWebhookEvent сохраняет проверенное событие для асинхронной обработки
func (v *Verifier) StoreWebhookEvent(ctx context.Context, integrationID, eventType string, payload []byte, headers http.Header) (string, error) {
	event := &domain.WebhookEvent{
		IntegrationID: integrationID,
		EventType:     eventType,
		Payload:       asJSON(payload),
		Headers:       flattenHeaders(headers),
	}
	if err := v.repo.CreateWebhookEvent(ctx, event); err != nil {
		return "", err
	}
	return event.ID, nil
}

// asJSON сохраняет JSON как есть, остальное (формы Slack) - строкой
func asJSON(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
