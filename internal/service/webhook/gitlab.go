package webhook

import (
	"context"
	"encoding/json"

	"integrations-gateway/internal/domain"
)

// GitLabScheme - GitLab не подписывает тело, а присылает общий токен в X-Gitlab-Token
func GitLabScheme(req SignedRequest) Result {
	token := req.Headers.Get("X-Gitlab-Token")
	if token == "" {
		return invalid("missing token header")
	}
	if !equalToken(token, req.Secret) {
		return invalid("invalid token")
	}
	return Result{Valid: true}
}

// handleGitLab принимает вебхук GitLab; интеграция задается параметром ?id
func (h *Handler) handleGitLab(ctx context.Context, req Request) Response {
	var event domain.GitLabWebhook
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return h.malformed(domain.ProviderGitLab, "invalid GitLab payload")
	}

	integration, resp, ok := h.integrationFromQuery(ctx, domain.ProviderGitLab, req)
	if !ok {
		return resp
	}

	return h.verifyAndStore(ctx, domain.ProviderGitLab, req, []*domain.Integration{integration},
		event.Kind(req.Headers.Get("X-Gitlab-Event")))
}
