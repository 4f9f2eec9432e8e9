package providers

import (
	"github.com/smallbiznis/meterline/internal/providers/email"
	"github.com/smallbiznis/meterline/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
)
