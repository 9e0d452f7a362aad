package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string
	Env  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string

	StripeSecretKey     string
	StripeWebhookSecret string

	RedisURL string

	SiteURL        string
	Currency       string
	MembershipSlug string
	MembershipPlan string

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string

	CheckoutRateLimit int
	PortalRateLimit   int
	RateLimitWindow   time.Duration
}

// Load reads configuration from the environment. Nothing here is fatal:
// endpoints whose dependencies are unconfigured respond with a 500 "not
// configured" instead of the process refusing to start.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("APP_ENV", "development"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StripeSecretKey:     os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		RedisURL: os.Getenv("REDIS_URL"),

		SiteURL:        getEnv("SITE_URL", "http://localhost:3000"),
		Currency:       getEnv("CURRENCY", "eur"),
		MembershipSlug: getEnv("MEMBERSHIP_PRODUCT_SLUG", "club-membership"),
		MembershipPlan: getEnv("MEMBERSHIP_PLAN_NAME", "Club Membership"),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: getEnv("SMTP_PORT", "587"),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),

		CheckoutRateLimit: getEnvInt("CHECKOUT_RATE_LIMIT", 10),
		PortalRateLimit:   getEnvInt("PORTAL_RATE_LIMIT", 30),
		RateLimitWindow:   time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}
}

// PostgresConfigured reports whether the profile store can be connected.
func (c *Config) PostgresConfigured() bool {
	return c.PostgresUser != "" && c.PostgresPassword != "" && c.PostgresDB != "" && c.PostgresHost != ""
}

// StripeConfigured reports whether the payment gateway can be called.
func (c *Config) StripeConfigured() bool {
	return c.StripeSecretKey != ""
}

// SMTPConfigured reports whether confirmation email can be sent.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}
