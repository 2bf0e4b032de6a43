package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
	"github.com/noah-isme/teaching-eval-scoring/internal/utils"
)

// RateLimit creates a per-principal rate limiter; anonymous callers are keyed by IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			userID := PrincipalFromContext(c).UserID
			if userID == "" {
				userID = c.IP()
			}
			return fmt.Sprintf("%s:%s", identifier, userID)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(window.Seconds()+0.5)))
			return utils.SendErrorDetail(c, fiber.StatusTooManyRequests, "rate limit exceeded", utils.ErrorDetail{
				Kind:    string(scoring.KindOverloaded),
				Message: "rate limit exceeded",
			})
		},
	})
}
