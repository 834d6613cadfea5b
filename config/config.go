// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting. Values come from the process
// environment, optionally seeded from a .env file.
type Config struct {
	AppEnv         string        `mapstructure:"APP_ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AllowedOrigins string        `mapstructure:"ALLOWED_ORIGINS"`
	PublicURL      string        `mapstructure:"PUBLIC_URL"`
	SessionSecret  string        `mapstructure:"SESSION_SECRET"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
	AllowDevLogin  bool          `mapstructure:"ALLOW_DEV_LOGIN"`

	// Access policy
	AdminEmails  string `mapstructure:"ADMIN_EMAILS"` // comma-separated
	SpecialEmail string `mapstructure:"SPECIAL_EMAIL"`
	SpecialPlan  string `mapstructure:"SPECIAL_PLAN"`

	// Google sign-in
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	// R2 / S3
	CloudflareAccountID string `mapstructure:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID       string `mapstructure:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret   string `mapstructure:"R2_ACCESS_KEY_SECRET"`
	R2BucketName        string `mapstructure:"R2_BUCKET_NAME"`
	CDNBaseURL          string `mapstructure:"CDN_BASE_URL"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	MailFrom       string `mapstructure:"MAIL_FROM"`
	MailFromName   string `mapstructure:"MAIL_FROM_NAME"`

	DedupeInterval      time.Duration `mapstructure:"DEDUPE_INTERVAL"`
	AchievementInterval time.Duration `mapstructure:"ACHIEVEMENT_INTERVAL"`
}

var keys = []string{
	"APP_ENV", "PORT", "DATABASE_URL", "ALLOWED_ORIGINS", "PUBLIC_URL",
	"SESSION_SECRET", "SESSION_TTL", "ALLOW_DEV_LOGIN",
	"ADMIN_EMAILS", "SPECIAL_EMAIL", "SPECIAL_PLAN",
	"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL",
	"CLOUDFLARE_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_ACCESS_KEY_SECRET", "R2_BUCKET_NAME", "CDN_BASE_URL",
	"REDIS_URL", "SENDGRID_API_KEY", "MAIL_FROM", "MAIL_FROM_NAME",
	"DEDUPE_INTERVAL", "ACHIEVEMENT_INTERVAL",
}

// Load reads .env (if present) and the environment into a Config.
// A missing .env is not an error; a missing DATABASE_URL or SESSION_SECRET is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("PORT", "5200")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("PUBLIC_URL", "http://localhost:5200")
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("ALLOW_DEV_LOGIN", false)
	v.SetDefault("SPECIAL_PLAN", "lorde")
	v.SetDefault("MAIL_FROM_NAME", "Mesa do Mestre")
	v.SetDefault("DEDUPE_INTERVAL", 15*time.Minute)
	v.SetDefault("ACHIEVEMENT_INTERVAL", time.Hour)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET environment variable not set")
	}
	return &cfg, nil
}

// AdminEmailList splits ADMIN_EMAILS into trimmed entries.
func (c *Config) AdminEmailList() []string {
	return splitList(c.AdminEmails)
}

// OriginList splits ALLOWED_ORIGINS into trimmed entries.
func (c *Config) OriginList() []string {
	return splitList(c.AllowedOrigins)
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
