package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

// Auth role constants used by WithAuth helper.
const (
	AuthRoleAny     = "any"
	AuthRoleAdmin   = string(scoring.RoleAdmin)
	AuthRoleTeacher = string(scoring.RoleTeacher)
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a single handler with authentication and role guards. Teacher routes also admit
// admins; admin routes admit admins only.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser
	if !requireUser && role != AuthRoleAny {
		requireUser = true
	}

	return func(c *fiber.Ctx) error {
		principal := PrincipalFromContext(c)
		if requireUser && principal.UserID == "" {
			return deny(c, fiber.StatusUnauthorized, "authentication required")
		}
		if role == AuthRoleAny {
			return handler(c)
		}

		current := normalizeRoleValue(principal.Role)
		switch role {
		case AuthRoleTeacher:
			if current != AuthRoleTeacher && current != AuthRoleAdmin {
				return deny(c, fiber.StatusForbidden, "insufficient permissions")
			}
		default:
			if current != role {
				return deny(c, fiber.StatusForbidden, "insufficient permissions")
			}
		}

		return handler(c)
	}
}

func deny(c *fiber.Ctx, status int, message string) error {
	return utils.SendErrorDetail(c, status, message, utils.ErrorDetail{
		Kind:    string(scoring.KindUnauthorized),
		Message: message,
	})
}
