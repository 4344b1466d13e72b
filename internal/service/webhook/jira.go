// Путь: internal/service/webhook/jira.go
package webhook

import (
	"context"
	"encoding/json"

	"integrations-gateway/internal/domain"
)

// JiraScheme - Jira по умолчанию не подписывает вебхуки, проверяется общий токен X-Webhook-Token
func JiraScheme(req SignedRequest) Result {
	token := req.Headers.Get("X-Webhook-Token")
	if token == "" {
		return invalid("missing token header")
	}
	if !equalToken(token, req.Secret) {
		return invalid("invalid token")
	}
	return Result{Valid: true}
}

func (h *Handler) handleJira(ctx context.Context, req Request) Response {
	var event domain.JiraWebhook
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return h.malformed(domain.ProviderJira, "invalid Jira payload")
	}

	integration, resp, ok := h.integrationFromQuery(ctx, domain.ProviderJira, req)
	if !ok {
		return resp
	}

	return h.verifyAndStore(ctx, domain.ProviderJira, req, []*domain.Integration{integration}, event.Kind())
}
