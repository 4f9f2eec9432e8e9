// Package domain holds the billing alert model and the alert manager contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

type Level string

const (
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// BillingAlert records a quota threshold breach. At most one active alert
// exists per tenant, metric and level.
type BillingAlert struct {
	ID         snowflake.ID           `gorm:"primaryKey" json:"id"`
	TenantID   string                 `gorm:"type:text;not null;uniqueIndex:ux_billing_alerts_active,where:active,priority:1" json:"tenant_id"`
	MetricType usagedomain.MetricType `gorm:"type:text;not null;uniqueIndex:ux_billing_alerts_active,where:active,priority:2" json:"metric_type"`
	Level      Level                  `gorm:"type:text;not null;uniqueIndex:ux_billing_alerts_active,where:active,priority:3" json:"level"`
	Message    string                 `gorm:"type:text;not null;default:''" json:"message"`
	Percentage float64                `gorm:"not null;default:0" json:"percentage"`
	Active     bool                   `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time              `gorm:"not null" json:"created_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	NotifiedAt *time.Time             `json:"notified_at,omitempty"`
}

func (BillingAlert) TableName() string { return "billing_alerts" }
