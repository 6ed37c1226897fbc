package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"chaos-orm/internal/config"
	"chaos-orm/internal/engine"
	"chaos-orm/internal/instrument"
)

// Middleware validates the bearer token and stores the subject under
// "user_id" and the claims under "claims".
func Middleware(cfg config.AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(cfg, parts[1])
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals("user_id", claims.Subject)
		c.Locals("claims", claims)
		c.SetUserContext(instrument.WithUserID(c.UserContext(), claims.Subject))
		return c.Next()
	}
}

// RequireRole rejects requests whose token lacks role. It must run after
// Middleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := GetClaims(c)
		if claims == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !claims.HasRole(role) {
			return engine.ForbiddenError(role + " role required")
		}
		return c.Next()
	}
}

// GetClaims returns the claims stored by Middleware, or nil.
func GetClaims(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals("claims").(*Claims)
	return claims
}
