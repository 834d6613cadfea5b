package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rpg-portal/logger"
	"rpg-portal/middleware"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
)

func SetupCampaignRoutes(app *fiber.App, d *Deps) {
	campaigns := app.Group("/campaigns")

	campaigns.Get("/", optionalAuth(d), func(c *fiber.Ctx) error {
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

	// Registered before /:id so "stream" is not taken for an id.
	campaigns.Get("/stream", middleware.SSEAuth(d.Sessions, d.Accounts), func(c *fiber.Ctx) error {
		return streamCampaignEvents(c, d.Campaigns.Events)
	})

	campaigns.Get("/:id", optionalAuth(d), func(c *fiber.Ctx) error {
		campaign, err := d.Campaigns.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		services.ViewCampaign(campaign, middleware.SessionFrom(c))
		return c.JSON(campaign)
	})

	campaigns.Post("/:id/claim", requireAuth(d), func(c *fiber.Ctx) error {
		sess := middleware.SessionFrom(c)
		claim, err := d.Campaigns.ClaimSeat(c.UserContext(), c.Params("id"), sess)
		if err != nil {
			return fail(c, err)
		}
		unlocked := recordEvent(c, d, sess.User.ID, services.EventInput{Name: "seat_claimed", Value: claim.CampaignID})
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message":  "seat claimed",
			"claim":    claim,
			"unlocked": unlocked,
		})
	})

	campaigns.Delete("/:id/claim", requireAuth(d), func(c *fiber.Ctx) error {
		if err := d.Campaigns.LeaveSeat(c.UserContext(), c.Params("id"), middleware.SessionFrom(c)); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "seat released"})
	})
}

// streamCampaignEvents pushes campaign changes as server-sent events
// until the client goes away. The subscription is released on return.
func streamCampaignEvents(c *fiber.Ctx, events services.Broadcaster) error {
	userID, _ := c.Locals(middleware.LocalsUserID).(string)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancelCtx := context.WithCancel(context.Background())
		defer cancelCtx()
		ch, cancel := events.Subscribe(ctx)
		defer cancel()

		logger.Debug().Str("user_id", userID).Msg("📡 Campaign stream opened")
		defer logger.Debug().Str("user_id", userID).Msg("📡 Campaign stream closed")

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}
			case <-ticker.C:
				w.WriteString(": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}
