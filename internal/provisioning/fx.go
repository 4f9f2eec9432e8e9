package provisioning

import (
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	"go.uber.org/fx"
)

func provideRegistry(cfg config.Config, clk clock.Clock) *Registry {
	return NewRegistry(cfg.Worker.CollectorTimeout, DefaultEmulators(clk)...)
}

var Module = fx.Module("provisioning",
	fx.Provide(
		NewGormInstanceDirectory,
		provideRegistry,
	),
)
