// Package notification delivers billing alerts to operators over email and
// Slack.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/providers/email"
	"github.com/smallbiznis/meterline/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const alertTemplate = "billing_alert"

// Dispatcher sends one alert to every configured channel.
type Dispatcher interface {
	Notify(ctx context.Context, alert alertdomain.BillingAlert) error
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Email  email.Provider
	Slack  slack.Provider
}

type dispatcher struct {
	log        *zap.Logger
	email      email.Provider
	slack      slack.Provider
	channel    string
	recipients []string
}

func NewDispatcher(p Params) Dispatcher {
	recipients := make([]string, 0, len(p.Config.Notification.Recipients))
	for _, r := range p.Config.Notification.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &dispatcher{
		log:        p.Log.Named("notification.dispatcher"),
		email:      p.Email,
		slack:      p.Slack,
		channel:    p.Config.Notification.SlackChannel,
		recipients: recipients,
	}
}

// Notify returns the joined errors of the channels that failed. The alert
// counts as delivered only when every channel succeeded.
func (d *dispatcher) Notify(ctx context.Context, alert alertdomain.BillingAlert) error {
	var errs []error

	if len(d.recipients) > 0 {
		if err := d.email.SendTemplate(ctx, d.recipients, alertTemplate, templateData(alert)); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if err := d.slack.PostMessage(ctx, d.channel, slackText(alert)); err != nil {
		errs = append(errs, fmt.Errorf("slack: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.log.Debug("alert notified",
		zap.String("alert_id", alert.ID.String()),
		zap.String("tenant_id", alert.TenantID),
		zap.String("level", string(alert.Level)),
	)
	return nil
}

func subject(alert alertdomain.BillingAlert) string {
	return fmt.Sprintf("%s: %s at %.1f%% for tenant %s", alert.Level, alert.MetricType, alert.Percentage, alert.TenantID)
}

func templateData(alert alertdomain.BillingAlert) map[string]any {
	return map[string]any{
		"subject":     subject(alert),
		"level":       string(alert.Level),
		"tenant_id":   alert.TenantID,
		"metric_type": string(alert.MetricType),
		"percentage":  alert.Percentage,
		"message":     alert.Message,
		"created_at":  alert.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func slackText(alert alertdomain.BillingAlert) string {
	icon := ":warning:"
	if alert.Level == alertdomain.LevelCritical {
		icon = ":rotating_light:"
	}
	return fmt.Sprintf("%s *%s* %s", icon, subject(alert), alert.Message)
}
