package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/alert"
	"github.com/smallbiznis/meterline/internal/cache"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/migration"
	"github.com/smallbiznis/meterline/internal/notification"
	"github.com/smallbiznis/meterline/internal/observability"
	"github.com/smallbiznis/meterline/internal/pricing"
	"github.com/smallbiznis/meterline/internal/provisioning"
	"github.com/smallbiznis/meterline/internal/quota"
	"github.com/smallbiznis/meterline/internal/server"
	"github.com/smallbiznis/meterline/internal/tenant"
	"github.com/smallbiznis/meterline/internal/usage"
	"github.com/smallbiznis/meterline/internal/worker"
	"github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/lock"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(forceWorkerEnabled),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,

		// Domain services required by the loops
		pricing.Module,
		tenant.Module,
		provisioning.Module,
		usage.Module,
		quota.Module,
		alert.Module,
		notification.Module,
		worker.Module,

		// Health check and /metrics only
		fx.Provide(server.NewEngine),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// forceWorkerEnabled keeps the loops on in the dedicated worker binary even
// when WORKER_ENABLED is false for the monolith.
func forceWorkerEnabled(cfg config.Config) config.Config {
	cfg.Worker.Enabled = true
	return cfg
}
