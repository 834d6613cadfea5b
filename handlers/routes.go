package handlers

import (
	"context"
	"errors"
	"mime/multipart"

	"rpg-portal/config"
	"rpg-portal/logger"
	"rpg-portal/middleware"
	"rpg-portal/services"
	"rpg-portal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"gorm.io/gorm"
)

// ImageStore uploads images and returns their public URL.
type ImageStore interface {
	Upload(ctx context.Context, fh *multipart.FileHeader, prefix string) (string, error)
}

// Deps is everything the HTTP layer needs. Google and Images may be nil
// when not configured.
type Deps struct {
	Config       *config.Config
	DB           *gorm.DB
	Sessions     *services.SessionManager
	Google       *services.GoogleIdentity
	Policy       *services.AccessPolicy
	Accounts     *services.AccountService
	Users        *services.UserService
	Campaigns    *services.CampaignService
	Achievements *services.AchievementService
	Contacts     *services.ContactService
	Messages     *services.MessageService
	Images       ImageStore
	AuthLimiter  *middleware.IPRateLimiter
}

// Register mounts every route on app.
func Register(app *fiber.App, d *Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "database not ready"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())(c.Context())
		return nil
	})

	app.Get("/plans", func(c *fiber.Ctx) error {
		return c.JSON(services.PlanTiers)
	})
	app.Get("/achievements", func(c *fiber.Ctx) error {
		catalog, err := d.Achievements.Catalog(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(catalog)
	})

	SetupAuthRoutes(app, d)
	SetupMeRoutes(app, d)
	SetupCampaignRoutes(app, d)
	SetupAdminRoutes(app, d)
}

func requireAuth(d *Deps) fiber.Handler {
	return middleware.Auth(d.Sessions, d.Accounts, true)
}

func optionalAuth(d *Deps) fiber.Handler {
	return middleware.Auth(d.Sessions, d.Accounts, false)
}

// fail converts a domain error into the JSON error response. Nothing is
// retried; transient failures tell the client to try again.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrUnknownPlan),
		errors.Is(err, services.ErrUnknownEvent),
		errors.Is(err, utils.ErrInvalidImage):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrUnauthenticated),
		errors.Is(err, services.ErrSessionRevoked):
		status, msg = fiber.StatusUnauthorized, "authentication failed"
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrSeatDenied):
		status, msg = fiber.StatusForbidden, err.Error()
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrNotClaimed):
		status, msg = fiber.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrCampaignFull),
		errors.Is(err, services.ErrAlreadyClaimed),
		errors.Is(err, services.ErrClaimInFlight),
		errors.Is(err, services.ErrEmailTaken):
		status, msg = fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrUnavailable):
		status, msg = fiber.StatusServiceUnavailable, "service temporarily unavailable, try again"
	}

	if status >= 500 {
		logger.Error().Err(err).Str("path", c.Path()).Str("method", c.Method()).Msg("❌ Request failed")
	} else {
		logger.Debug().Err(err).Str("path", c.Path()).Int("status", status).Msg("Request rejected")
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
}

// recordEvent applies a server-side event; failures never fail the
// request that triggered it.
func recordEvent(c *fiber.Ctx, d *Deps, userID string, in services.EventInput) []string {
	unlocked, err := d.Achievements.RecordEvent(c.UserContext(), userID, in)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Str("event", in.Name).Msg("⚠️ Failed to record event")
		return nil
	}
	ids := make([]string, 0, len(unlocked))
	for _, def := range unlocked {
		ids = append(ids, def.ID)
	}
	return ids
}
