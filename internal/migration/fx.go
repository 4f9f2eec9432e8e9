package migration

import (
	"database/sql"

	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/provisioning"
	"github.com/smallbiznis/meterline/internal/tenant"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		var run func(*sql.DB) error
		switch cfg.DBType {
		case "postgres":
			run = RunMigrations
		case "mysql":
			run = RunMySQLMigrations
		}
		if run != nil {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := run(sqlDB); err != nil {
				return err
			}
			log.Info("schema migrated", zap.String("driver", cfg.DBType))
			return nil
		}
		if !cfg.DBAutoMigrate {
			log.Info("schema migration skipped", zap.String("driver", cfg.DBType))
			return nil
		}
		if err := AutoMigrate(conn); err != nil {
			return err
		}
		log.Info("schema auto-migrated", zap.String("driver", cfg.DBType))
		return nil
	}),
)

// AutoMigrate creates the metering tables through gorm for sqlite and tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&tenant.Tenant{},
		&provisioning.ServiceInstance{},
		&usagedomain.UsageSample{},
		&alertdomain.BillingAlert{},
	)
}
