package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"rpg-portal/models"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct{ err error }

func (f fakeVerifier) Verify(_ context.Context, token string) (*services.SessionClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token != "good" && token != "admin" {
		return nil, services.ErrUnauthenticated
	}
	return &services.SessionClaims{
		Email:            token + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "uid-" + token, ID: "jti-" + token},
	}, nil
}

type fakeLoader struct{ err error }

func (f fakeLoader) LoadSession(_ context.Context, p services.Principal) (*services.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.Session{
		Principal:   p,
		User:        &models.User{ID: p.UID, Email: p.Email},
		Permissions: services.Permissions{IsAdmin: p.Email == "admin@example.com", Plan: services.PlanGratis},
	}, nil
}

func newApp(v TokenVerifier, l SessionLoader, required bool) *fiber.App {
	app := fiber.New()
	app.Get("/whoami", Auth(v, l, required), func(c *fiber.Ctx) error {
		sess := SessionFrom(c)
		if sess == nil {
			return c.SendString("anonymous")
		}
		return c.SendString(sess.User.ID)
	})
	app.Get("/admin", Auth(v, l, true), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/stream", SSEAuth(v, l), func(c *fiber.Ctx) error {
		return c.SendString(fmt.Sprint(c.Locals(LocalsUserID)))
	})
	return app
}

func call(t *testing.T, app *fiber.App, path, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAuthRequired(t *testing.T) {
	app := newApp(fakeVerifier{}, fakeLoader{}, true)

	status, _ := call(t, app, "/whoami", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = call(t, app, "/whoami", "Bearer nope")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := call(t, app, "/whoami", "Bearer good")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "uid-good", body)
}

func TestAuthOptional(t *testing.T) {
	app := newApp(fakeVerifier{}, fakeLoader{}, false)

	status, body := call(t, app, "/whoami", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "anonymous", body)

	status, _ = call(t, app, "/whoami", "Bearer nope")
	assert.Equal(t, fiber.StatusUnauthorized, status, "a bad token is never treated as anonymous")
}

func TestAuthReadsSessionCookie(t *testing.T) {
	app := newApp(fakeVerifier{}, fakeLoader{}, true)
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Cookie", SessionCookie+"=good")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthUnavailableStore(t *testing.T) {
	app := newApp(fakeVerifier{}, fakeLoader{err: fmt.Errorf("%w: db down", services.ErrUnavailable)}, true)
	status, _ := call(t, app, "/whoami", "Bearer good")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	app = newApp(fakeVerifier{}, fakeLoader{err: services.ErrUnauthenticated}, true)
	status, _ = call(t, app, "/whoami", "Bearer good")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRequireAdmin(t *testing.T) {
	app := newApp(fakeVerifier{}, fakeLoader{}, true)

	status, _ := call(t, app, "/admin", "Bearer good")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := call(t, app, "/admin", "Bearer admin")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestSSEAuthUsesQueryToken(t *testing.T) {
	app := newApp(fakeVerifier{}, fakeLoader{}, true)

	status, _ := call(t, app, "/stream", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body := call(t, app, "/stream?token=good", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "uid-good", body)

	status, _ = call(t, app, "/stream?token=bad", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
