package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"integrations-gateway/internal/service/organization"
)

// Ключи контекста echo
const (
	ContextUserID         = "user_id"
	ContextOrganizationID = "org_id"
	ContextRole           = "org_role"
)

// Откуда берутся сессия и организация
const (
	SessionCookie      = "session"
	OrganizationCookie = "org_id"
	OrganizationHeader = "X-Organization-ID"
)

// AuthMiddleware - middleware для аутентификации и выбора организации
type AuthMiddleware struct {
	jwtSecret []byte
	resolver  organization.Resolver
}

// NewAuthMiddleware создает новый middleware
func NewAuthMiddleware(jwtSecret string, resolver organization.Resolver) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(jwtSecret),
		resolver:  resolver,
	}
}

// RequireAuth требует сессию: Bearer токен или cookie session
func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractToken(c.Request())
		if token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing token"})
		}

		userID, err := m.validateJWT(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}

		c.Set(ContextUserID, userID)

		return next(c)
	}
}

// RequireOrganization определяет текущую организацию и проверяет членство пользователя.
// Вызывается после RequireAuth.
func (m *AuthMiddleware) RequireOrganization(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgID := strings.TrimSpace(c.Request().Header.Get(OrganizationHeader))
		if orgID == "" {
			if cookie, err := c.Cookie(OrganizationCookie); err == nil {
				orgID = strings.TrimSpace(cookie.Value)
			}
		}
		if orgID == "" {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "organization not found"})
		}

		userID := UserID(c)
		role, err := m.resolver.Role(c.Request().Context(), userID, orgID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("organization_id", orgID).Msg("membership lookup failed")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		if role == "" {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
		}

		c.Set(ContextOrganizationID, orgID)
		c.Set(ContextRole, role)

		return next(c)
	}
}

// RequireRole пропускает только указанные роли. Вызывается после RequireOrganization.
func (m *AuthMiddleware) RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := Role(c)
			for _, allowed := range roles {
				if role == allowed {
					return next(c)
				}
			}

			log.Warn().
				Str("user_id", UserID(c)).
				Str("organization_id", OrganizationID(c)).
				Str("role", role).
				Msg("role is not allowed to manage integrations")
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"error":         "forbidden",
				"requiredRoles": roles,
			})
		}
	}
}

// GenerateJWT генерирует токен сессии для пользователя
func (m *AuthMiddleware) GenerateJWT(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.jwtSecret)
}

// validateJWT проверяет токен и возвращает user_id
func (m *AuthMiddleware) validateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", echo.ErrUnauthorized
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", errors.New("token without user_id")
	}
	return userID, nil
}

// UserID возвращает пользователя, установленного RequireAuth
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextUserID).(string)
	return id
}

// OrganizationID возвращает организацию, установленную RequireOrganization
func OrganizationID(c echo.Context) string {
	id, _ := c.Get(ContextOrganizationID).(string)
	return id
}

// Role возвращает роль в организации, установленную RequireOrganization
func Role(c echo.Context) string {
	role, _ := c.Get(ContextRole).(string)
	return role
}

// Вспомогательная функция для извлечения токена из заголовка или cookie
func extractToken(r *http.Request) string {
	bearToken := r.Header.Get("Authorization")
	parts := strings.Split(bearToken, " ")
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
