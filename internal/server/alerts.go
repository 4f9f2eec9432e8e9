package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetBillingAlerts(c *gin.Context) {
	alerts, err := s.metering.GetBillingAlerts(c.Request.Context(), tenantParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alerts})
}

func (s *Server) ResolveAlert(c *gin.Context) {
	alertID, err := parseOptionalSnowflakeID(c.Param("alert_id"))
	if err != nil || alertID == nil {
		AbortWithError(c, newValidationError("alert_id", "invalid_id", "alert_id must be a numeric id"))
		return
	}

	if err := s.metering.ResolveAlert(c.Request.Context(), *alertID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
