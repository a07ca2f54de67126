// middleware/auth.go
package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localUserID = "user_id"
	localOrgID  = "organization_id"
	localRoles  = "user_roles"
)

// UserContextMiddleware extracts user identity, tenant and roles set by Gateway.
// Every route behind it needs both X-User-ID and X-Organization-ID.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		orgID := c.Get("X-Organization-ID")
		if userID == "" || orgID == "" {
			slog.Warn("❌ [USER_CTX] identity headers missing", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID or X-Organization-ID; request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localOrgID, orgID)
		c.Locals(localRoles, roles)

		slog.Debug("👤 [USER_CTX]", "user_id", userID, "organization_id", orgID, "roles", roles, "path", c.Path())
		return c.Next()
	}
}

// RequireRole lets the request through when the caller holds any of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, want := range roles {
			if HasRole(c, want) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role",
		})
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func OrganizationID(c *fiber.Ctx) string {
	id, _ := c.Locals(localOrgID).(string)
	return id
}

func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(localRoles).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
