package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerMiddleware логирует все запросы
func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)

		stop := time.Now()
		latency := stop.Sub(start)

		logEvent := log.Info()
		if err != nil {
			logEvent = log.Error().Err(err)
		} else if c.Response().Status >= http.StatusInternalServerError {
			logEvent = log.Warn()
		}

		// путь без query: в колбэках там code и state
		requestContext(logEvent, c).
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Str("route", c.Path()).
			Int("status", c.Response().Status).
			Str("ip", c.RealIP()).
			Dur("latency", latency).
			Str("user_agent", c.Request().UserAgent()).
			Msg("request")

		return err
	}
}

// RequestLogger возвращает middleware для логирования
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return LoggerMiddleware(next)
	}
}

// requestContext добавляет провайдера, организацию и пользователя, если маршрут их знает.
// Организация и пользователь появляются после RequireAuth и RequireOrganization.
func requestContext(e *zerolog.Event, c echo.Context) *zerolog.Event {
	if provider := c.Param("provider"); provider != "" {
		e = e.Str("provider", provider)
	}
	if orgID := OrganizationID(c); orgID != "" {
		e = e.Str("organization_id", orgID)
	}
	if userID := UserID(c); userID != "" {
		e = e.Str("user_id", userID)
	}
	return e
}
