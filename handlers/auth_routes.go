package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"rpg-portal/logger"
	"rpg-portal/middleware"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const stateCookie = "portal_oauth_state"

type signInResponse struct {
	Token       string                    `json:"token"`
	ExpiresAt   time.Time                 `json:"expires_at"`
	Outcome     services.ReconcileOutcome `json:"outcome"`
	User        interface{}               `json:"user"`
	Permissions services.Permissions      `json:"permissions"`
	Unlocked    []string                  `json:"unlocked,omitempty"`
}

func SetupAuthRoutes(app *fiber.App, d *Deps) {
	auth := app.Group("/auth")
	if d.AuthLimiter != nil {
		auth.Use(d.AuthLimiter.Handler())
	}

	auth.Get("/google/login", func(c *fiber.Ctx) error {
		if !d.Google.Enabled() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "google sign-in is not configured"})
		}
		state := uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     stateCookie,
			Value:    state,
			Expires:  time.Now().Add(10 * time.Minute),
			HTTPOnly: true,
			Secure:   !d.Config.IsDevelopment(),
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		return c.Redirect(d.Google.AuthCodeURL(state), fiber.StatusTemporaryRedirect)
	})

	auth.Get("/google/callback", func(c *fiber.Ctx) error {
		if !d.Google.Enabled() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "google sign-in is not configured"})
		}
		state := c.Query("state")
		if state == "" || state != c.Cookies(stateCookie) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid oauth state"})
		}
		c.ClearCookie(stateCookie)

		principal, err := d.Google.Exchange(c.UserContext(), c.Query("code"))
		if err != nil {
			logger.Warn().Err(err).Msg("❌ Google sign-in failed")
			return fail(c, err)
		}
		resp, err := signIn(c, d, principal)
		if err != nil {
			return fail(c, err)
		}
		setSessionCookie(c, d, resp.Token, resp.ExpiresAt)

		target := d.Config.PublicURL
		if target == "" {
			target = "/"
		}
		return c.Redirect(target, fiber.StatusSeeOther)
	})

	auth.Post("/dev-login", func(c *fiber.Ctx) error {
		if !d.Config.AllowDevLogin {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
		}
		type Req struct {
			Email       string `json:"email" validate:"required,email"`
			DisplayName string `json:"display_name" validate:"max=120"`
			UID         string `json:"uid" validate:"max=128"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		uid := strings.TrimSpace(req.UID)
		if uid == "" {
			sum := sha256.Sum256([]byte(services.NormalizeEmail(req.Email)))
			uid = "dev-" + hex.EncodeToString(sum[:8])
		}
		resp, err := signIn(c, d, services.Principal{UID: uid, Email: req.Email, DisplayName: req.DisplayName})
		if err != nil {
			return fail(c, err)
		}
		setSessionCookie(c, d, resp.Token, resp.ExpiresAt)
		return c.JSON(resp)
	})

	auth.Post("/logout", requireAuth(d), func(c *fiber.Ctx) error {
		claims := middleware.ClaimsFrom(c)
		if err := d.Sessions.Revoke(c.UserContext(), claims); err != nil {
			return fail(c, err)
		}
		c.ClearCookie(middleware.SessionCookie)
		logger.Info().Str("user_id", claims.Subject).Msg("👋 Signed out")
		return c.JSON(fiber.Map{"message": "signed out"})
	})
}

// signIn reconciles the principal's account and issues a session.
func signIn(c *fiber.Ctx, d *Deps, p services.Principal) (*signInResponse, error) {
	res, err := d.Accounts.Reconcile(c.UserContext(), p)
	if err != nil {
		return nil, err
	}
	p.UID = res.User.UID
	if p.UID == "" {
		p.UID = res.User.ID
	}
	token, exp, err := d.Sessions.Issue(p)
	if err != nil {
		return nil, err
	}
	unlocked := recordEvent(c, d, res.User.ID, services.EventInput{Name: "first_login"})
	return &signInResponse{
		Token:       token,
		ExpiresAt:   exp,
		Outcome:     res.Outcome,
		User:        res.User,
		Permissions: res.Permissions,
		Unlocked:    unlocked,
	}, nil
}

func setSessionCookie(c *fiber.Ctx, d *Deps, token string, exp time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Expires:  exp,
		HTTPOnly: true,
		Secure:   !d.Config.IsDevelopment(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
