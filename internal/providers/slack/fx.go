package slack

import (
	"strings"

	"github.com/smallbiznis/meterline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	url := strings.TrimSpace(cfg.Notification.SlackWebhookURL)
	if url == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(url, nil)
}
