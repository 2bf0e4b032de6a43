package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-eval-scoring/internal/middleware"
)

func withLocals(userID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		c.Locals("user_role", role)
		return c.Next()
	}
}

func TestWithAuthTeacherRoleAdmitsAdmins(t *testing.T) {
	for _, role := range []string{"teacher", "Admin"} {
		app := fiber.New()
		app.Use(withLocals("u-1", role))
		app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNoContent)
		}, middleware.AuthOptions{Role: middleware.AuthRoleTeacher}))

		resp := perform(t, app)
		require.Equal(t, fiber.StatusNoContent, resp.StatusCode, role)
	}
}

func TestWithAuthAdminRejectsTeacher(t *testing.T) {
	app := fiber.New()
	app.Use(withLocals("teacher-7", "teacher"))
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{Role: middleware.AuthRoleAdmin}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestWithAuthAnyRequiresUserWhenAsked(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWithAuthAnyAllowsAnonymousByDefault(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{}))

	resp := perform(t, app)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
