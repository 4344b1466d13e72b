package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"integrations-gateway/internal/domain"
)

const zoomURLValidation = "endpoint.url_validation"

// handleZoom: endpoint.url_validation отвечает plainToken и encryptedToken,
// события маршрутизируются по ?id или account_id
func (h *Handler) handleZoom(ctx context.Context, req Request) Response {
	var envelope domain.ZoomEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil || envelope.Event == "" {
		return h.malformed(domain.ProviderZoom, "invalid Zoom payload")
	}

	if envelope.Event == zoomURLValidation {
		if envelope.Payload.PlainToken == "" {
			return h.malformed(domain.ProviderZoom, "missing plainToken")
		}
		integration, resp, ok := h.integrationFromQuery(ctx, domain.ProviderZoom, req)
		if !ok {
			return resp
		}
		secret, err := h.verifier.secretFor(integration)
		if err != nil {
			return h.internalError(domain.ProviderZoom, err, "Failed to decrypt Zoom webhook secret")
		}
		return h.challenge(domain.ProviderZoom, jsonResponse(http.StatusOK, map[string]string{
			"plainToken":     envelope.Payload.PlainToken,
			"encryptedToken": ZoomValidationToken(secret, envelope.Payload.PlainToken),
		}))
	}

	var (
		integration *domain.Integration
		resp        Response
		ok          bool
	)
	if req.Query.Get("id") == "" && envelope.Payload.AccountID != "" {
		found, err := h.repo.FindByConfigValue(ctx, domain.ProviderZoom, "account_id", envelope.Payload.AccountID)
		integration, resp, ok = h.lookup(domain.ProviderZoom, found, err)
	} else {
		integration, resp, ok = h.integrationFromQuery(ctx, domain.ProviderZoom, req)
	}
	if !ok {
		return resp
	}

	return h.verifyAndStore(ctx, domain.ProviderZoom, req, []*domain.Integration{integration}, envelope.Event)
}
