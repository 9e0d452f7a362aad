package controllers

import (
	"net/http"

	"commerce-service/middleware"
	"commerce-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PortalController hands members a self-service billing management session.
type PortalController struct {
	Membership services.MembershipService
	Logger     *zap.Logger
}

// CreateSession handles POST /account/portal.
func (pc *PortalController) CreateSession(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	url, svcErr := pc.Membership.CreatePortalSession(c.Request.Context(), userID)
	if svcErr != nil {
		c.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
