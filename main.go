package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rpg-portal/config"
	"rpg-portal/handlers"
	"rpg-portal/logger"
	"rpg-portal/middleware"
	"rpg-portal/models"
	"rpg-portal/services"
	"rpg-portal/utils"
	"rpg-portal/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("production")
		logger.Fatal().Err(err).Msg("❌ Invalid configuration")
	}
	logger.Init(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.Open(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		logger.Fatal().Err(err).Msg("❌ Database unavailable")
	}

	var events services.Broadcaster
	if cfg.RedisURL != "" {
		rb, err := services.NewRedisBroadcaster(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ Redis unavailable")
		}
		events = rb
		logger.Info().Msg("📡 Campaign events fan out through Redis")
	} else {
		events = services.NewLocalBroadcaster()
	}
	defer events.Close()

	var mailer services.Mailer = services.NopMailer{}
	if cfg.SendGridAPIKey != "" {
		mailer = services.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName)
	} else {
		logger.Warn().Msg("⚠️ SENDGRID_API_KEY not set, messages stay in the inbox only")
	}

	policy := services.NewAccessPolicy(cfg.AdminEmailList(), cfg.SpecialEmail, cfg.SpecialPlan)
	sessions := services.NewSessionManager(db, cfg.SessionSecret, cfg.SessionTTL)
	accounts := services.NewAccountService(db, policy)
	achievements := services.NewAchievementService(db)

	deps := &handlers.Deps{
		Config:       cfg,
		DB:           db,
		Sessions:     sessions,
		Google:       services.NewGoogleIdentity(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL),
		Policy:       policy,
		Accounts:     accounts,
		Users:        services.NewUserService(db),
		Campaigns:    services.NewCampaignService(db, events),
		Achievements: achievements,
		Contacts:     services.NewContactService(db),
		Messages:     services.NewMessageService(db, mailer),
		AuthLimiter:  middleware.NewIPRateLimiter(rate.Every(time.Second), 10),
	}

	if cfg.R2BucketName != "" {
		store, err := utils.NewR2Storage(ctx, utils.R2Config{
			AccountID:       cfg.CloudflareAccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2BucketName,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to initialize R2 client")
		}
		deps.Images = store
	} else {
		logger.Warn().Msg("⚠️ R2_BUCKET_NAME not set, image uploads disabled")
	}
	if cfg.AllowDevLogin {
		logger.Warn().Msg("⚠️ Dev login enabled")
	}

	app := fiber.New(fiber.Config{
		BodyLimit:   16 * 1024 * 1024,
		ReadTimeout: 30 * time.Second,
	})

	origins := strings.Join(cfg.OriginList(), ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, Content-Disposition",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.Register(app, deps)

	sched, err := workers.Start(ctx,
		workers.Job{Name: "dedupe-accounts", Every: cfg.DedupeInterval, Run: workers.DedupeJob(accounts)},
		workers.Job{Name: "evaluate-achievements", Every: cfg.AchievementInterval, Run: workers.AchievementJob(achievements)},
		workers.Job{Name: "prune-revoked-sessions", Every: time.Hour, Run: workers.PruneJob(sessions)},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("❌ Failed to start scheduler")
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error().Err(err).Msg("❌ Server error")
			stop()
		}
	}()

	logger.Info().Str("port", cfg.Port).Str("origins", origins).Msg("✅ Server running")

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Scheduler shutdown")
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("⚠️ Server shutdown")
	}
}
