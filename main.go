package main

import (
	"context"
	"log"
	"time"

	"commerce-service/config"
	"commerce-service/controllers"
	"commerce-service/database"
	"commerce-service/middleware"
	"commerce-service/models"
	"commerce-service/ratelimit"
	"commerce-service/repository"
	"commerce-service/routes"
	"commerce-service/sender"
	"commerce-service/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	database.LoadEnv()
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal("[CommerceService] Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Missing configuration degrades the affected endpoints to a 500 "not
	// configured" response; the process always comes up.
	var profileRepo repository.ProfileRepository
	if cfg.PostgresConfigured() {
		db, err := database.Connect(cfg)
		if err != nil {
			logger.Error("Profile store unavailable, membership endpoints degraded", zap.Error(err))
		} else {
			if err := db.AutoMigrate(&models.MembershipProfile{}); err != nil {
				logger.Error("Profile migration failed", zap.Error(err))
			}
			profileRepo = repository.NewGormProfileRepo(db)
		}
	} else {
		logger.Warn("Profile store not configured, membership endpoints degraded")
	}

	var gateway services.PaymentGateway
	var stripeSvc *services.StripeService
	if cfg.StripeConfigured() {
		stripeSvc = services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		gateway = stripeSvc
	} else {
		logger.Warn("Stripe not configured, checkout endpoints degraded")
	}

	var mail sender.EmailSender
	if cfg.SMTPConfigured() {
		smtpSender, err := sender.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		if err != nil {
			logger.Warn("SMTP sender unavailable, confirmations disabled", zap.Error(err))
		} else {
			mail = smtpSender
		}
	}

	checkoutLimiter, portalLimiter := buildLimiters(cfg, logger)

	var checkoutSvc services.CheckoutService
	if gateway != nil {
		baskets := services.NewBasketService(gateway)
		checkoutSvc = services.NewCheckoutService(
			baskets, gateway,
			cfg.SiteURL, cfg.Currency, cfg.MembershipSlug,
			logger,
		)
	}

	membershipSvc := services.NewMembershipService(
		profileRepo, gateway, mail,
		cfg.MembershipSlug, cfg.MembershipPlan, cfg.SiteURL,
		logger,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.GlobalThrottle(rate.Every(time.Minute/100), 50))

	routes.Register(r,
		&controllers.CheckoutController{Checkout: checkoutSvc, Logger: logger},
		&controllers.WebhookController{Stripe: stripeSvc, Membership: membershipSvc, Logger: logger},
		&controllers.PortalController{Membership: membershipSvc, Logger: logger},
		routes.Limits{
			Checkout: middleware.RateLimit(checkoutLimiter, "checkout", logger),
			Portal:   middleware.RateLimit(portalLimiter, "portal", logger),
		},
	)

	logger.Info("Commerce service running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("[CommerceService] Server failed:", err)
	}
}

// buildLimiters prefers shared Redis counters so budgets hold across
// instances, falling back to in-process buckets.
func buildLimiters(cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, ratelimit.Limiter) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			client := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Ping(ctx).Err(); err == nil {
				logger.Info("Rate limiting backed by Redis")
				return ratelimit.NewRedisLimiter(client, cfg.CheckoutRateLimit, cfg.RateLimitWindow),
					ratelimit.NewRedisLimiter(client, cfg.PortalRateLimit, cfg.RateLimitWindow)
			}
			logger.Warn("Redis unreachable, using in-process rate limiting", zap.Error(err))
		} else {
			logger.Warn("Invalid REDIS_URL, using in-process rate limiting", zap.Error(err))
		}
	}
	return ratelimit.NewMemoryLimiter(cfg.CheckoutRateLimit, cfg.RateLimitWindow),
		ratelimit.NewMemoryLimiter(cfg.PortalRateLimit, cfg.RateLimitWindow)
}
