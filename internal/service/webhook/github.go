package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"integrations-gateway/internal/domain"
)

// handleGitHub: ping отвечает pong; кандидаты берутся из ?orgId, ?id или всех подключенных,
// событие принимает первая интеграция, чья подпись сходится
func (h *Handler) handleGitHub(ctx context.Context, req Request) Response {
	eventType := req.Headers.Get("X-GitHub-Event")
	if eventType == "" || req.Headers.Get("X-Hub-Signature-256") == "" {
		return h.malformed(domain.ProviderGitHub, "missing required headers")
	}
	if !json.Valid(req.Body) {
		return h.malformed(domain.ProviderGitHub, "invalid GitHub payload")
	}

	if eventType == "ping" {
		return h.challenge(domain.ProviderGitHub, jsonResponse(http.StatusOK, map[string]string{"message": "pong"}))
	}

	candidates, err := h.githubCandidates(ctx, req)
	if err != nil {
		return h.internalError(domain.ProviderGitHub, err, "Failed to load GitHub integrations")
	}

	return h.verifyAndStore(ctx, domain.ProviderGitHub, req, candidates, eventType)
}

func (h *Handler) githubCandidates(ctx context.Context, req Request) ([]*domain.Integration, error) {
	if orgID := req.Query.Get("orgId"); orgID != "" {
		integration, err := h.repo.FindByOrganizationAndProvider(ctx, orgID, domain.ProviderGitHub)
		if err != nil {
			return nil, ignoreNotFound(err)
		}
		if !integration.Connected {
			return nil, nil
		}
		return []*domain.Integration{integration}, nil
	}

	if id := req.Query.Get("id"); id != "" {
		integration, err := h.repo.FindByID(ctx, id)
		if err != nil {
			return nil, ignoreNotFound(err)
		}
		if integration.Provider != domain.ProviderGitHub {
			return nil, nil
		}
		return []*domain.Integration{integration}, nil
	}

	return h.repo.FindConnectedByProvider(ctx, domain.ProviderGitHub)
}
