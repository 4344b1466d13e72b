package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/domain"
)

// AsanaHookEstablished - отметка в config: секрет подписки уже принят
const AsanaHookEstablished = "asana_hook_established"

// handleAsana: при создании подписки Asana присылает X-Hook-Secret, он становится
// секретом интеграции и возвращается тем же заголовком. Принимается только первый:
// неподписанный запрос не может заменить уже принятый секрет.
func (h *Handler) handleAsana(ctx context.Context, req Request) Response {
	if hookSecret := req.Headers.Get("X-Hook-Secret"); hookSecret != "" {
		integration, resp, ok := h.integrationFromQuery(ctx, domain.ProviderAsana, req)
		if !ok {
			return resp
		}

		sealed, err := h.verifier.cipher.Seal(hookSecret)
		if err != nil {
			return h.internalError(domain.ProviderAsana, err, "Failed to encrypt Asana hook secret")
		}
		err = h.repo.EstablishWebhookSecret(ctx, integration.ID, AsanaHookEstablished, sealed)
		switch {
		case errors.Is(err, domain.ErrHookEstablished):
			log.Warn().
				Str("provider", domain.ProviderAsana.String()).
				Str("integration_id", integration.ID).
				Msg("Repeated Asana handshake rejected")
			h.metrics.Webhook(domain.ProviderAsana.String(), "handshake_rejected")
			return errorResponse(http.StatusConflict, "webhook already established")
		case errors.Is(err, domain.ErrIntegrationNotFound):
			return h.notFound(domain.ProviderAsana)
		case err != nil:
			return h.internalError(domain.ProviderAsana, err, "Failed to store Asana hook secret")
		}

		header := http.Header{}
		header.Set("X-Hook-Secret", hookSecret)
		return h.challenge(domain.ProviderAsana, Response{Status: http.StatusOK, Header: header})
	}

	var envelope domain.AsanaEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return h.malformed(domain.ProviderAsana, "invalid Asana payload")
	}

	integration, resp, ok := h.integrationFromQuery(ctx, domain.ProviderAsana, req)
	if !ok {
		return resp
	}

	return h.verifyAndStore(ctx, domain.ProviderAsana, req, []*domain.Integration{integration}, envelope.Kind())
}
