package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/services"
	"github.com/localnerve/stemflow/internal/types"
)

const userIDKey = "userID"

// UserIDHeader carries the caller id when AUTH_MODE=header
const UserIDHeader = "X-User-ID"

// Auth resolves the caller and stores the user id in the request context
func Auth(cfg *config.Config) fiber.Handler {
	if cfg.AuthMode == config.AuthModeHeader {
		return headerAuth
	}
	return func(c *fiber.Ctx) error {
		if !services.IsAuthorizerInitialized() {
			if err := services.InitAuthorizer(cfg, c.Protocol(), c.Hostname()); err != nil {
				return &types.CustomError{
					Code:    fiber.StatusServiceUnavailable,
					Message: fmt.Sprintf("Authorizer unavailable: %v", err),
					Type:    "auth.unavailable",
				}
			}
		}
		return authorize(c, []string{"user"}, "auth.session")
	}
}

// headerAuth trusts the X-User-ID header. Development and tests only.
func headerAuth(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(UserIDHeader))
	if userID == "" {
		return &types.CustomError{
			Code:    fiber.StatusUnauthorized,
			Message: fmt.Sprintf("%s header not found", UserIDHeader),
			Type:    "auth.header",
		}
	}
	c.Locals(userIDKey, userID)
	return c.Next()
}

// authorize performs the authorization check
func authorize(c *fiber.Ctx, roles []string, errorType string) error {
	// Get session cookie
	session := c.Cookies("cookie_session")
	if session == "" {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: "Authorizer cookie \"cookie_session\" not found",
			Type:    errorType,
		}
	}

	// Validate session
	user, err := services.ValidateSession(session, roles)
	if err != nil {
		return &types.CustomError{
			Code:    fiber.StatusForbidden,
			Message: fmt.Sprintf("Invalid session: %v", err),
			Type:    errorType,
		}
	}

	c.Locals(userIDKey, user.ID)
	return c.Next()
}

// UserID returns the authenticated caller, or "" outside Auth
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}
