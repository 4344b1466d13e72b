package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"integrations-gateway/internal/metrics"
	"integrations-gateway/internal/service/organization"
	"integrations-gateway/internal/transport/middleware"
)

// SetupRoutes настраивает маршруты API
func SetupRoutes(
	e *echo.Echo,
	integrationAPI *IntegrationAPI,
	webhookAPI *WebhookAPI,
	authMiddleware *middleware.AuthMiddleware,
	m *metrics.Metrics,
) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	g := e.Group("/api/integrations")

	// Публичные маршруты: провайдеры приходят без сессии
	g.GET("/:provider/callback", integrationAPI.Callback)
	g.POST("/:provider/webhook", webhookAPI.Receive)

	// Защищенные маршруты: сессия, членство в организации и роль owner/admin
	protected := g.Group("",
		authMiddleware.RequireAuth,
		authMiddleware.RequireOrganization,
		authMiddleware.RequireRole(organization.ManagerRoles...),
	)
	protected.GET("", integrationAPI.List)
	protected.POST("", integrationAPI.Create)
	protected.POST("/zoom/connect", integrationAPI.ConnectZoom)
	protected.POST("/:provider/authorize", integrationAPI.Authorize)
	protected.POST("/:provider/refresh", integrationAPI.Refresh)
	protected.GET("/:provider/events", integrationAPI.Events)
	protected.GET("/:provider/check", integrationAPI.Check)
	protected.PATCH("/:provider", integrationAPI.Update)
	protected.DELETE("/:provider", integrationAPI.Revoke)
}
