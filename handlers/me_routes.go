package handlers

import (
	"rpg-portal/middleware"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMeRoutes(app *fiber.App, d *Deps) {
	me := app.Group("/me", requireAuth(d))

	me.Get("/", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		tier, _ := services.LookupPlan(sess.Permissions.Plan)
		_, progress, err := d.Achievements.ForUser(c.UserContext(), sess.User)
		if err != nil {
			return fail(c, err)
		}
		claims, err := d.Campaigns.ClaimsForUser(c.UserContext(), sess.User.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"user":        sess.User,
			"permissions": sess.Permissions,
			"plan":        tier,
			"progress":    progress,
			"campaigns":   claims,
		})
	})

	me.Put("/profile", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		var in services.ProfileInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		user, err := d.Users.UpdateProfile(c.UserContext(), sess.User.ID, in)
		if err != nil {
			return fail(c, err)
		}
		unlocked := recordEvent(c, d, user.ID, services.EventInput{Name: "profile_saved"})
		return c.JSON(fiber.Map{"user": user, "unlocked": unlocked})
	})

	me.Post("/avatar", func(c *fiber.Ctx) error {
		if d.Images == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "image storage is not configured"})
		}
		fh, err := c.FormFile("image")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "image file is required"})
		}
		sess := middleware.SessionFrom(c)
		url, err := d.Images.Upload(c.UserContext(), fh, "avatars/"+sess.User.ID)
		if err != nil {
			return fail(c, err)
		}
		user, err := d.Users.SetPhoto(c.UserContext(), sess.User.ID, url)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"user": user})
	})

	me.Put("/address", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		var in services.AddressInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		user, err := d.Users.UpdateAddress(c.UserContext(), sess.User.ID, in)
		if err != nil {
			return fail(c, err)
		}
		unlocked := recordEvent(c, d, user.ID, services.EventInput{Name: "address_saved"})
		return c.JSON(fiber.Map{"user": user, "unlocked": unlocked})
	})

	me.Get("/achievements", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		views, progress, err := d.Achievements.ForUser(c.UserContext(), sess.User)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"achievements": views, "progress": progress})
	})

	// Client-reported activity. Server-side events are not accepted here.
	me.Post("/events", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		var in services.EventInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		if ev, ok := services.EventSchema[in.Name]; !ok || !ev.Client {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event not accepted from clients"})
		}
		unlocked, err := d.Achievements.RecordEvent(c.UserContext(), sess.User.ID, in)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"unlocked": unlocked})
	})

	me.Get("/messages", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		msgs, err := d.Messages.ForUser(c.UserContext(), sess.User.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(msgs)
	})

	me.Patch("/messages/:id/read", func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		msg, changed, err := d.Messages.MarkRead(c.UserContext(), sess.User.ID, c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		if changed {
			recordEvent(c, d, sess.User.ID, services.EventInput{Name: "message_read"})
		}
		return c.JSON(msg)
	})
}
