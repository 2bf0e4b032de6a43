package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

const principalKey = "principal"

// JWTProtected validates HS256 bearer tokens issued by the identity provider and binds the
// authenticated principal to the request.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return unauthorized(c, "authorization header missing")
		}

		const bearer = "Bearer "
		if len(authorization) < len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
			return unauthorized(c, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return unauthorized(c, "invalid token")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c, "invalid token claims")
		}

		principal := scoring.Principal{
			UserID: extractUserIDFromClaims(claims),
			Role:   scoring.Role(extractUserRoleFromClaims(claims)),
		}
		if principal.UserID == "" {
			return unauthorized(c, "token has no subject")
		}

		c.Locals("user_id", principal.UserID)
		c.Locals("user_role", string(principal.Role))
		c.Locals(principalKey, principal)
		return c.Next()
	}
}

// PrincipalFromContext returns the authenticated principal, or the zero principal.
func PrincipalFromContext(c *fiber.Ctx) scoring.Principal {
	if principal, ok := c.Locals(principalKey).(scoring.Principal); ok {
		return principal
	}
	principal := scoring.Principal{Role: scoring.Role(normalizeRoleValue(c.Locals("user_role")))}
	if id, ok := c.Locals("user_id").(string); ok {
		principal.UserID = id
	}
	return principal
}

func unauthorized(c *fiber.Ctx, message string) error {
	return utils.SendErrorDetail(c, fiber.StatusUnauthorized, message, utils.ErrorDetail{
		Kind:    string(scoring.KindUnauthorized),
		Message: message,
	})
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}
	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return ""
		}
		return strconv.FormatInt(int64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

// normalizeRole picks the admin role when a roles array grants it, else the first role.
func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		first := ""
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			role := strings.ToLower(strings.TrimSpace(str))
			if role == string(scoring.RoleAdmin) {
				return role
			}
			if first == "" {
				first = role
			}
		}
		return first
	default:
		return ""
	}
}
