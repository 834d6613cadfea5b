package middleware

import (
	"context"
	"errors"
	"strings"

	"rpg-portal/logger"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by the auth middleware.
const (
	LocalsClaims  = "session_claims"
	LocalsSession = "session"
	LocalsUserID  = "user_id"
)

// SessionCookie carries the token for browser clients.
const SessionCookie = "portal_session"

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*services.SessionClaims, error)
}

type SessionLoader interface {
	LoadSession(ctx context.Context, p services.Principal) (*services.Session, error)
}

// Auth validates the session token from the Authorization header (or
// the session cookie) and rebuilds the per-request Session from storage.
// With required unset, anonymous requests pass through without a session.
func Auth(verifier TokenVerifier, loader SessionLoader, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			if required {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
			}
			return c.Next()
		}
		if err := authenticate(c, verifier, loader, token); err != nil {
			return authError(c, err)
		}
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return header
	}
	return c.Cookies(SessionCookie)
}

func authenticate(c *fiber.Ctx, verifier TokenVerifier, loader SessionLoader, token string) error {
	ctx := c.UserContext()
	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		return err
	}
	sess, err := loader.LoadSession(ctx, claims.Principal())
	if err != nil {
		return err
	}
	c.Locals(LocalsClaims, claims)
	c.Locals(LocalsSession, sess)
	c.Locals(LocalsUserID, sess.User.ID)
	return nil
}

func authError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrUnavailable) {
		logger.Warn().Err(err).Str("path", c.Path()).Msg("⚠️ Session lookup unavailable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service temporarily unavailable, try again"})
	}
	logger.Debug().Err(err).Str("path", c.Path()).Msg("🚫 Rejected session token")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired session"})
}

// RequireAdmin must run after Auth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess := SessionFrom(c)
		if sess == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication required"})
		}
		if !sess.Permissions.IsAdmin {
			logger.Warn().Str("user_id", sess.User.ID).Str("path", c.Path()).Msg("🚫 Admin route denied")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}

// SessionFrom returns the request's session, nil for anonymous callers.
func SessionFrom(c *fiber.Ctx) *services.Session {
	sess, _ := c.Locals(LocalsSession).(*services.Session)
	return sess
}

func ClaimsFrom(c *fiber.Ctx) *services.SessionClaims {
	claims, _ := c.Locals(LocalsClaims).(*services.SessionClaims)
	return claims
}
