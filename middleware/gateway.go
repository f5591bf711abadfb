// middleware/gateway.go
package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// DashboardAuthMiddleware validates the Bearer token from the dashboard.
// The pipeline exposes nothing but read-only queries, and only to the one
// consumer holding this token.
func DashboardAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("DASHBOARD_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ DASHBOARD_SERVICE_TOKEN is not set — service cannot authenticate the dashboard")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Printf("🚫 [DASH_AUTH] Missing Authorization header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "dashboard authentication token missing",
			})
		}

		// Parse "Bearer <token>"
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			// no "Bearer " prefix — try raw value
			token = authHeader
		}

		if token != expectedToken {
			log.Printf("❌ [DASH_AUTH] Invalid token for %s (got prefix: %.10s...)", c.Path(), token)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid dashboard authentication token",
			})
		}

		return c.Next()
	}
}
