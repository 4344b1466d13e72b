package webhook

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"

	"integrations-gateway/internal/domain"
)

// handleSlack: url_verification отвечает challenge, события маршрутизируются по team_id
func (h *Handler) handleSlack(ctx context.Context, req Request) Response {
	envelope, err := parseSlack(req)
	if err != nil {
		return h.malformed(domain.ProviderSlack, "invalid Slack payload")
	}

	if envelope.Type == "url_verification" {
		return h.challenge(domain.ProviderSlack, jsonResponse(http.StatusOK, map[string]string{"challenge": envelope.Challenge}))
	}

	var (
		integration *domain.Integration
		resp        Response
		ok          bool
	)
	if team := envelope.Workspace(); team != "" {
		found, err := h.repo.FindByConfigValue(ctx, domain.ProviderSlack, "team_id", team)
		integration, resp, ok = h.lookup(domain.ProviderSlack, found, err)
	} else {
		integration, resp, ok = h.integrationFromQuery(ctx, domain.ProviderSlack, req)
	}
	if !ok {
		return resp
	}

	return h.verifyAndStore(ctx, domain.ProviderSlack, req, []*domain.Integration{integration}, envelope.Kind())
}

// parseSlack понимает JSON Events API и формы (slash-команды, interactivity с полем payload)
func parseSlack(req Request) (domain.SlackEnvelope, error) {
	var envelope domain.SlackEnvelope

	mediaType, _, _ := mime.ParseMediaType(req.Headers.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		err := json.Unmarshal(req.Body, &envelope)
		return envelope, err
	}

	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return envelope, err
	}
	if payload := form.Get("payload"); payload != "" {
		err := json.Unmarshal([]byte(payload), &envelope)
		return envelope, err
	}

	envelope.TeamID = form.Get("team_id")
	envelope.Type = "slash_command"
	if cmd := form.Get("command"); cmd != "" {
		envelope.Event.Type = "command" + cmd
	}
	return envelope, nil
}
