package notification

import (
	"github.com/smallbiznis/meterline/internal/providers"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	providers.Module,
	fx.Provide(NewDispatcher),
)
