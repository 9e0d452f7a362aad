package routes

import (
	"net/http"

	"commerce-service/controllers"
	"commerce-service/middleware"

	"github.com/gin-gonic/gin"
)

// Limits carries the per-route admission gates. Session creation gets a
// tighter budget than the lower-risk portal endpoint.
type Limits struct {
	Checkout gin.HandlerFunc
	Portal   gin.HandlerFunc
}

func Register(
	r *gin.Engine,
	checkout *controllers.CheckoutController,
	webhook *controllers.WebhookController,
	portal *controllers.PortalController,
	limits Limits,
) {
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	r.POST("/checkout/session", limits.Checkout, checkout.CreateSession)
	r.OPTIONS("/checkout/session", checkout.Preflight)

	// Stripe webhook (signature-authenticated, no rate limit)
	r.POST("/stripe/webhook", webhook.HandleStripeWebhook)

	account := r.Group("/account")
	account.Use(middleware.RequireUser())
	account.POST("/portal", limits.Portal, portal.CreateSession)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
