package controllers

import (
	"net/http"

	"commerce-service/models"
	"commerce-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckoutController handles checkout session creation.
type CheckoutController struct {
	Checkout services.CheckoutService
	Logger   *zap.Logger
}

// CreateSession handles POST /checkout/session.
func (cc *CheckoutController) CreateSession(c *gin.Context) {
	if cc.Checkout == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Checkout is not configured"})
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		cc.Logger.Warn("Malformed checkout request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, svcErr := cc.Checkout.CreateSession(c.Request.Context(), &req)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Preflight handles OPTIONS /checkout/session.
func (cc *CheckoutController) Preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}
