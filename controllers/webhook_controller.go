package controllers

import (
	"encoding/json"
	"net/http"

	"commerce-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// WebhookController receives payment-provider callbacks. The signature on
// the raw body is the sole authentication mechanism; irrelevant events are
// acknowledged identically to relevant ones so callers cannot fingerprint
// which event shapes this service acts on.
type WebhookController struct {
	Stripe     *services.StripeService
	Membership services.MembershipService
	Logger     *zap.Logger
}

// HandleStripeWebhook handles POST /stripe/webhook.
func (wc *WebhookController) HandleStripeWebhook(c *gin.Context) {
	if wc.Stripe == nil || wc.Stripe.WebhookKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook is not configured"})
		return
	}

	event, err := wc.Stripe.ParseWebhook(c.Request)
	if err != nil {
		wc.Logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			wc.Logger.Error("Failed to unmarshal checkout session",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
			return
		}
		if svcErr := wc.Membership.HandleCheckoutCompleted(c.Request.Context(), &sess); svcErr != nil {
			c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
			return
		}
	default:
		wc.Logger.Debug("Ignoring webhook event", zap.String("event_type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
