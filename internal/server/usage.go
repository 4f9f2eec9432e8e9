package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterline/internal/metering"
	"github.com/smallbiznis/meterline/internal/usage/aggregate"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

type recordUsageRequest struct {
	ServiceInstanceID string     `json:"service_instance_id"`
	MetricType        string     `json:"metric_type"`
	Value             *float64   `json:"value"`
	Timestamp         *time.Time `json:"timestamp"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Value == nil {
		AbortWithError(c, newValidationError("value", "required", "value is required"))
		return
	}
	metricType := strings.TrimSpace(req.MetricType)
	if metricType != "" {
		c.Set("metric_type", metricType)
	}

	var observedAt time.Time
	if req.Timestamp != nil {
		observedAt = *req.Timestamp
	}

	sample, err := s.metering.RecordUsage(c.Request.Context(), metering.RecordUsageRequest{
		TenantID:          tenantParam(c),
		ServiceInstanceID: strings.TrimSpace(req.ServiceInstanceID),
		MetricType:        usagedomain.MetricType(metricType),
		Value:             *req.Value,
		Timestamp:         observedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sample})
}

// GetTenantUsage defaults to the current calendar month when no range is
// given.
func (s *Server) GetTenantUsage(c *gin.Context) {
	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_time", "from must be RFC3339 or YYYY-MM-DD"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_time", "to must be RFC3339 or YYYY-MM-DD"))
		return
	}

	now := s.clock.Now().UTC()
	monthStart, _ := aggregate.MonthPeriod(now)
	if from == nil {
		from = &monthStart
	}
	if to == nil {
		to = &now
	}

	resp, err := s.metering.GetTenantUsage(c.Request.Context(), tenantParam(c), *from, *to)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func tenantParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("tenant_id"))
}

type runningTotalsResponse struct {
	TenantID string                             `json:"tenant_id"`
	Totals   map[usagedomain.MetricType]float64 `json:"totals"`
}

// GetRunningTotals serves the cached totals: counters summed since the last
// refresh and the latest level of each gauge.
func (s *Server) GetRunningTotals(c *gin.Context) {
	tenantID := tenantParam(c)
	totals, err := s.metering.GetRunningTotals(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runningTotalsResponse{TenantID: tenantID, Totals: totals}})
}
