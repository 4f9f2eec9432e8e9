package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterline/internal/quota"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

func (s *Server) GetTenantQuotas(c *gin.Context) {
	resp, err := s.metering.GetTenantQuotas(c.Request.Context(), tenantParam(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type quotaCheckResponse struct {
	TenantID   string                 `json:"tenant_id"`
	MetricType usagedomain.MetricType `json:"metric_type"`
	Amount     float64                `json:"amount"`
	Allowed    bool                   `json:"allowed"`
}

func (s *Server) CheckQuotaLimit(c *gin.Context) {
	metric, ok := usagedomain.ParseMetricType(c.Param("metric"))
	if !ok {
		AbortWithError(c, quota.ErrInvalidMetric)
		return
	}
	c.Set("metric_type", string(metric))

	amount, err := parseOptionalFloat(c.Query("amount"))
	if err != nil {
		AbortWithError(c, quota.ErrInvalidAmount)
		return
	}
	if amount == nil {
		AbortWithError(c, newValidationError("amount", "required", "amount is required"))
		return
	}

	tenantID := tenantParam(c)
	allowed, err := s.metering.CheckQuotaLimit(c.Request.Context(), tenantID, metric, *amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quotaCheckResponse{
		TenantID:   tenantID,
		MetricType: metric,
		Amount:     *amount,
		Allowed:    allowed,
	}})
}
