package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"integrations-gateway/internal/service/webhook"
)

// WebhookAPI - публичный прием вебхуков провайдеров
type WebhookAPI struct {
	handler *webhook.Handler
}

func NewWebhookAPI(handler *webhook.Handler) *WebhookAPI {
	return &WebhookAPI{handler: handler}
}

// Receive передает сырое тело в обработчик: подпись считается по байтам как пришли
func (api *WebhookAPI) Receive(c echo.Context) error {
	body, err := api.handler.ReadBody(c.Request())
	if errors.Is(err, webhook.ErrBodyTooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}

	resp := api.handler.Receive(c.Request().Context(), c.Param("provider"), webhook.Request{
		Body:    body,
		Headers: c.Request().Header,
		Query:   c.QueryParams(),
	})

	for key, values := range resp.Header {
		for _, v := range values {
			c.Response().Header().Add(key, v)
		}
	}
	if resp.Body == nil {
		return c.NoContent(resp.Status)
	}
	return c.JSON(resp.Status, resp.Body)
}
