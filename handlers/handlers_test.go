package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rpg-portal/config"
	"rpg-portal/models"
	"rpg-portal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const adminEmail = "mestre@example.com"

type testServer struct {
	app  *fiber.App
	db   *gorm.DB
	deps *Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	cfg := &config.Config{AppEnv: "development", AllowDevLogin: true, AdminEmails: adminEmail}
	policy := services.NewAccessPolicy(cfg.AdminEmailList(), "", "")
	events := services.NewLocalBroadcaster()
	t.Cleanup(func() { _ = events.Close() })

	deps := &Deps{
		Config:       cfg,
		DB:           db,
		Sessions:     services.NewSessionManager(db, "test-secret", time.Hour),
		Google:       services.NewGoogleIdentity("", "", ""),
		Policy:       policy,
		Accounts:     services.NewAccountService(db, policy),
		Users:        services.NewUserService(db),
		Campaigns:    services.NewCampaignService(db, events),
		Achievements: services.NewAchievementService(db),
		Contacts:     services.NewContactService(db),
		Messages:     services.NewMessageService(db, services.NopMailer{}),
	}
	app := fiber.New()
	Register(app, deps)
	return &testServer{app: app, db: db, deps: deps}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, email string) (string, models.User) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/auth/dev-login", "", fiber.Map{"email": email, "display_name": "Jogador"})
	require.Equal(t, http.StatusOK, status, string(body))
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token, resp.User
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = s.do(t, http.MethodGet, "/plans", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), services.PlanArquimago)

	status, _ = s.do(t, http.MethodGet, "/achievements", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestDevLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token, user := s.login(t, "Jogador@Example.com")
	assert.Equal(t, "jogador@example.com", user.Email)

	status, body := s.do(t, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	var me struct {
		User        models.User          `json:"user"`
		Permissions services.Permissions `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, user.ID, me.User.ID)
	assert.Equal(t, services.PlanGratis, me.Permissions.Plan)
	assert.False(t, me.Permissions.IsAdmin)

	// Signing in again lands on the same record.
	_, again := s.login(t, "jogador@example.com")
	assert.Equal(t, user.ID, again.ID)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.login(t, "saindo@example.com")

	status, _ := s.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDevLoginDisabled(t *testing.T) {
	s := newTestServer(t)
	app := fiber.New()
	Register(app, &Deps{
		Config:       &config.Config{},
		DB:           s.db,
		Sessions:     services.NewSessionManager(s.db, "x", time.Hour),
		Google:       services.NewGoogleIdentity("", "", ""),
		Accounts:     services.NewAccountService(s.db, nil),
		Achievements: services.NewAchievementService(s.db),
	})
	raw, _ := json.Marshal(fiber.Map{"email": "a@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/auth/dev-login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminProbe(t *testing.T) {
	s := newTestServer(t)
	playerToken, _ := s.login(t, "jogador@example.com")
	adminToken, _ := s.login(t, adminEmail)

	status, _ := s.do(t, http.MethodGet, "/admin/probe", playerToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.do(t, http.MethodGet, "/admin/probe", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"admin":true}`, string(body))
}

func TestClaimFlow(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.login(t, adminEmail)
	playerToken, player := s.login(t, "jogador@example.com")

	status, body := s.do(t, http.MethodPost, "/admin/campaigns", adminToken, fiber.Map{
		"name": "Tumba da Aniquilação", "system": "D&D 5e", "vagas": 1, "plan": services.PlanAventureiro,
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var campaign models.Campaign
	require.NoError(t, json.Unmarshal(body, &campaign))

	claimPath := "/campaigns/" + campaign.ID + "/claim"

	status, _ = s.do(t, http.MethodPost, claimPath, playerToken, nil)
	assert.Equal(t, http.StatusForbidden, status, "gratis may not request seats")

	status, body = s.do(t, http.MethodPatch, "/admin/users/"+player.ID+"/plan", adminToken, fiber.Map{"plan": services.PlanMago})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(t, http.MethodPost, claimPath, playerToken, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Contains(t, string(body), `"unlocked"`)

	status, _ = s.do(t, http.MethodPost, claimPath, playerToken, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = s.do(t, http.MethodGet, "/campaigns/"+campaign.ID, "", nil)
	require.Equal(t, http.StatusOK, status)
	var view models.Campaign
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, 0, view.FreeSeats)

	status, _ = s.do(t, http.MethodDelete, claimPath, playerToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodDelete, claimPath, playerToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestClientEvents(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.login(t, "rolador@example.com")

	status, _ := s.do(t, http.MethodPost, "/me/events", token, fiber.Map{"name": "seat_claimed", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, status, "server events are rejected")

	status, _ = s.do(t, http.MethodPost, "/me/events", token, fiber.Map{"name": "nao_existe"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := s.do(t, http.MethodPost, "/me/events", token, fiber.Map{"name": "dice_rolled"})
	assert.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(t, http.MethodGet, "/me/achievements", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"progress"`)
}

func TestUnknownCampaign(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, http.MethodGet, "/campaigns/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

type fakeImages struct{ prefixes []string }

func (f *fakeImages) Upload(_ context.Context, fh *multipart.FileHeader, prefix string) (string, error) {
	f.prefixes = append(f.prefixes, prefix)
	return "https://cdn.example.com/" + prefix + "/" + fh.Filename, nil
}

func TestAvatarUpload(t *testing.T) {
	s := newTestServer(t)
	token, user := s.login(t, "retrato@example.com")

	upload := func() (int, []byte) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("image", "eu.png")
		require.NoError(t, err)
		_, _ = part.Write([]byte("png"))
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/me/avatar", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := s.app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		out, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, out
	}

	status, _ := upload()
	assert.Equal(t, http.StatusServiceUnavailable, status)

	images := &fakeImages{}
	s.deps.Images = images
	status, body := upload()
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, []string{"avatars/" + user.ID}, images.prefixes)

	var stored models.User
	require.NoError(t, s.db.First(&stored, "id = ?", user.ID).Error)
	assert.Equal(t, "https://cdn.example.com/avatars/"+user.ID+"/eu.png", stored.PhotoURL)
}

func TestMarkReadCountsOnlyFirstRead(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.login(t, adminEmail)
	token, user := s.login(t, "leitor@example.com")

	status, body := s.do(t, http.MethodPost, "/admin/messages", adminToken, fiber.Map{
		"user_ids": []string{user.ID}, "subject": "Sessão", "body": "Sábado",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var inbox []models.Message
	require.NoError(t, s.db.Where("user_id = ?", user.ID).Find(&inbox).Error)
	require.Len(t, inbox, 1)

	for i := 0; i < 2; i++ {
		status, body = s.do(t, http.MethodPatch, "/me/messages/"+inbox[0].ID+"/read", token, nil)
		require.Equal(t, http.StatusOK, status, string(body))
	}

	var stored models.User
	require.NoError(t, s.db.First(&stored, "id = ?", user.ID).Error)
	assert.Equal(t, int64(1), stored.Events["message_read"].Count)
}
