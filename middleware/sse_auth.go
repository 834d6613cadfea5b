package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SSEAuth authenticates event-stream requests, which cannot send headers
// from the browser, with a `token` query parameter.
//
// Usage:
//
//	app.Get("/campaigns/stream", middleware.SSEAuth(sessions, accounts), h.Stream)
func SSEAuth(verifier TokenVerifier, loader SessionLoader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			token = bearerToken(c)
		}
		if token == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing token in query"})
		}
		if err := authenticate(c, verifier, loader, token); err != nil {
			return authError(c, err)
		}
		return c.Next()
	}
}
