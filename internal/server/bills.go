package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterline/internal/billing"
)

type monthlyBillResponse struct {
	TenantID string          `json:"tenant_id"`
	Year     int             `json:"year"`
	Month    int             `json:"month"`
	Amount   decimal.Decimal `json:"amount"`
}

func (s *Server) GetMonthlyBill(c *gin.Context) {
	year, err := strconv.Atoi(strings.TrimSpace(c.Param("year")))
	if err != nil || year < 1 {
		AbortWithError(c, newValidationError("year", "invalid_year", "year must be a positive integer"))
		return
	}
	month, err := strconv.Atoi(strings.TrimSpace(c.Param("month")))
	if err != nil {
		AbortWithError(c, billing.ErrInvalidMonth)
		return
	}

	tenantID := tenantParam(c)
	amount, err := s.metering.CalculateMonthlyBill(c.Request.Context(), tenantID, year, time.Month(month))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": monthlyBillResponse{
		TenantID: tenantID,
		Year:     year,
		Month:    month,
		Amount:   amount,
	}})
}
