package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSecuredApp() *fiber.App {
	app := fiber.New()
	secured := app.Group("/s", GatewayAuthMiddleware("gw-token"), UserContextMiddleware())
	secured.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user":  UserID(c),
			"org":   OrganizationID(c),
			"admin": HasRole(c, "org_admin"),
		})
	})
	secured.Get("/admin/ping", RequireRole("org_admin", "super_admin"), func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func request(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestGatewayAuth(t *testing.T) {
	app := newSecuredApp()
	identity := map[string]string{"X-User-ID": "u1", "X-Organization-ID": "o1"}

	assert.Equal(t, fiber.StatusUnauthorized, request(t, app, "/s/whoami", identity))

	identity["Authorization"] = "Bearer wrong"
	assert.Equal(t, fiber.StatusUnauthorized, request(t, app, "/s/whoami", identity))

	identity["Authorization"] = "Bearer gw-token"
	assert.Equal(t, fiber.StatusOK, request(t, app, "/s/whoami", identity))

	identity["Authorization"] = "gw-token"
	assert.Equal(t, fiber.StatusOK, request(t, app, "/s/whoami", identity))
}

func TestUserContextRequiresIdentity(t *testing.T) {
	app := newSecuredApp()
	assert.Equal(t, fiber.StatusUnauthorized, request(t, app, "/s/whoami", map[string]string{
		"Authorization": "Bearer gw-token",
		"X-User-ID":     "u1",
	}))
}

func TestRequireRole(t *testing.T) {
	app := newSecuredApp()
	headers := map[string]string{
		"Authorization":     "Bearer gw-token",
		"X-User-ID":         "u1",
		"X-Organization-ID": "o1",
		"X-User-Roles":      "member",
	}
	assert.Equal(t, fiber.StatusForbidden, request(t, app, "/s/admin/ping", headers))

	headers["X-User-Roles"] = "member, org_admin"
	assert.Equal(t, fiber.StatusOK, request(t, app, "/s/admin/ping", headers))
}
