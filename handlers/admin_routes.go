package handlers

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"rpg-portal/logger"
	"rpg-portal/middleware"
	"rpg-portal/models"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
)

const maxImportSize = 10 << 20

func SetupAdminRoutes(app *fiber.App, d *Deps) {
	admin := app.Group("/admin", requireAuth(d), middleware.RequireAdmin())

	// Kept for front ends that detect admins by probing a privileged route.
	admin.Get("/probe", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"admin": true})
	})

	setupAdminCampaigns(admin, d)
	setupAdminUsers(admin, d)
	setupAdminContacts(admin, d)

	admin.Post("/messages", func(c *fiber.Ctx) error {
		var in services.MessageInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		report, err := d.Messages.Send(c.UserContext(), middleware.SessionFrom(c).Email(), in)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(report)
	})

	admin.Get("/achievements/overrides", func(c *fiber.Ctx) error {
		rows, err := d.Achievements.ListOverrides(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(rows)
	})

	admin.Put("/achievements/:id", func(c *fiber.Ctx) error {
		var o models.AchievementOverride
		if err := c.BodyParser(&o); err != nil {
			return badRequest(c, err)
		}
		o.ID = c.Params("id")
		saved, err := d.Achievements.UpsertOverride(c.UserContext(), o, middleware.SessionFrom(c).Email())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(saved)
	})

	admin.Delete("/achievements/:id", func(c *fiber.Ctx) error {
		if err := d.Achievements.DeleteOverride(c.UserContext(), c.Params("id"), middleware.SessionFrom(c).Email()); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "achievement removed"})
	})

	admin.Post("/maintenance/dedupe", func(c *fiber.Ctx) error {
		report, err := d.Accounts.SweepDuplicates(c.UserContext())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(report)
	})
}

func setupAdminCampaigns(admin fiber.Router, d *Deps) {
	admin.Get("/campaigns", func(c *fiber.Ctx) error {
		var f services.CampaignFilter
		if err := c.QueryParser(&f); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query", "details": err.Error()})
		}
		list, err := d.Campaigns.List(c.UserContext(), f, middleware.SessionFrom(c))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(list)
	})

	admin.Post("/campaigns", func(c *fiber.Ctx) error {
		var in services.CampaignInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		campaign, err := d.Campaigns.Create(c.UserContext(), in, middleware.SessionFrom(c).Email())
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(campaign)
	})

	admin.Put("/campaigns/:id", func(c *fiber.Ctx) error {
		var in services.CampaignInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		campaign, err := d.Campaigns.Update(c.UserContext(), c.Params("id"), in)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(campaign)
	})

	admin.Delete("/campaigns/:id", func(c *fiber.Ctx) error {
		if err := d.Campaigns.Delete(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "campaign deleted"})
	})

	admin.Post("/campaigns/:id/image", func(c *fiber.Ctx) error {
		if d.Images == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "image storage is not configured"})
		}
		fh, err := c.FormFile("image")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "image file is required"})
		}
		url, err := d.Images.Upload(c.UserContext(), fh, "campaigns")
		if err != nil {
			return fail(c, err)
		}
		campaign, err := d.Campaigns.SetImage(c.UserContext(), c.Params("id"), url)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(campaign)
	})

	admin.Delete("/campaigns/:id/players/:email", func(c *fiber.Ctx) error {
		if err := d.Campaigns.RemovePlayer(c.UserContext(), c.Params("id"), c.Params("email")); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "player removed"})
	})

	admin.Patch("/campaigns/:id/players/:email/note", func(c *fiber.Ctx) error {
		type Req struct {
			Note string `json:"note" validate:"max=1000"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		if err := services.Validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		claim, err := d.Campaigns.AnnotateClaim(c.UserContext(), c.Params("id"), c.Params("email"), req.Note)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(claim)
	})
}

func setupAdminUsers(admin fiber.Router, d *Deps) {
	admin.Get("/users", func(c *fiber.Ctx) error {
		users, total, err := d.Users.Search(c.UserContext(), c.Query("q"), c.Query("plan"), c.QueryInt("limit", 50), c.QueryInt("offset", 0))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"users": users, "total": total})
	})

	admin.Get("/users/:id", func(c *fiber.Ctx) error {
		user, err := d.Users.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"user": user, "permissions": d.Policy.Resolve(user, user.Email)})
	})

	admin.Post("/users", func(c *fiber.Ctx) error {
		var in services.UserInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		user, err := d.Users.Create(c.UserContext(), in)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(user)
	})

	admin.Put("/users/:id", func(c *fiber.Ctx) error {
		var in services.UserInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, err)
		}
		user, err := d.Users.Update(c.UserContext(), c.Params("id"), in)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(user)
	})

	admin.Delete("/users/:id", func(c *fiber.Ctx) error {
		if err := d.Users.Delete(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "user deleted"})
	})

	admin.Patch("/users/:id/plan", func(c *fiber.Ctx) error {
		type Req struct {
			Plan string `json:"plan" validate:"required"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
		user, err := d.Users.SetPlan(c.UserContext(), c.Params("id"), req.Plan)
		if err != nil {
			return fail(c, err)
		}
		// Plan achievements follow the override immediately.
		unlocked, err := d.Achievements.Evaluate(c.UserContext(), user.ID)
		if err != nil {
			logger.Warn().Err(err).Str("user_id", user.ID).Msg("⚠️ Achievement evaluation after plan change failed")
		}
		return c.JSON(fiber.Map{"user": user, "permissions": d.Policy.Resolve(user, user.Email), "unlocked": unlocked})
	})
}

func exportOptions(c *fiber.Ctx) services.ExportOptions {
	var opts services.ExportOptions
	for _, f := range strings.Split(c.Query("exclude"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			opts.Exclude = append(opts.Exclude, f)
		}
	}
	return opts
}

func setupAdminContacts(admin fiber.Router, d *Deps) {
	admin.Get("/contacts.csv", func(c *fiber.Ctx) error {
		var buf bytes.Buffer
		n, err := d.Contacts.ExportCSV(c.UserContext(), &buf, exportOptions(c))
		if err != nil {
			return fail(c, err)
		}
		logger.Info().Int("rows", n).Msg("📤 Contacts exported (csv)")
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="contatos-%s.csv"`, time.Now().Format("2006-01-02")))
		return c.Send(buf.Bytes())
	})

	admin.Get("/contacts.xlsx", func(c *fiber.Ctx) error {
		var buf bytes.Buffer
		n, err := d.Contacts.ExportXLSX(c.UserContext(), &buf, exportOptions(c))
		if err != nil {
			return fail(c, err)
		}
		logger.Info().Int("rows", n).Msg("📤 Contacts exported (xlsx)")
		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="contatos-%s.xlsx"`, time.Now().Format("2006-01-02")))
		return c.Send(buf.Bytes())
	})

	admin.Post("/contacts/import", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
		}
		if fh.Size > maxImportSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file too large"})
		}
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to open file"})
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read file"})
		}

		var rows [][]string
		if strings.EqualFold(filepath.Ext(fh.Filename), ".xlsx") {
			rows, err = services.ReadContactsXLSX(data)
		} else {
			rows, err = services.ReadContactsCSV(bytes.NewReader(data))
		}
		if err != nil {
			return fail(c, err)
		}
		report, err := d.Contacts.Import(c.UserContext(), rows)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(report)
	})
}
