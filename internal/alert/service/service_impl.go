package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	"github.com/smallbiznis/meterline/internal/alert/repository"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/lock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Thresholds are percentages of quota. Warning applies to
// [Warning, Critical), critical to [Critical, inf).
type Thresholds struct {
	Warning  float64
	Critical float64
}

func (t Thresholds) Validate() error {
	if t.Warning <= 0 || t.Critical <= t.Warning {
		return fmt.Errorf("%w: need 0 < warning (%v) < critical (%v)", alertdomain.ErrInvalidThresholds, t.Warning, t.Critical)
	}
	return nil
}

// Level returns the alert level for pct, or false below the warning band.
func (t Thresholds) Level(pct float64) (alertdomain.Level, bool) {
	switch {
	case pct >= t.Critical:
		return alertdomain.LevelCritical, true
	case pct >= t.Warning:
		return alertdomain.LevelWarning, true
	default:
		return "", false
	}
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Locker     lock.Locker
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	locker      lock.Locker
	clock       clock.Clock
	repo        alertdomain.Repository
	obsMetrics  *obsmetrics.Metrics
	thresholds  Thresholds
	autoResolve bool
}

func NewService(p ServiceParam) (alertdomain.Service, error) {
	return newService(p)
}

func newService(p ServiceParam) (*Service, error) {
	thresholds := Thresholds{
		Warning:  p.Config.Alert.WarningThreshold,
		Critical: p.Config.Alert.CriticalThreshold,
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("alert.service"),
		genID:       p.GenID,
		locker:      locker,
		clock:       clk,
		repo:        repository.Provide(),
		obsMetrics:  p.ObsMetrics,
		thresholds:  thresholds,
		autoResolve: p.Config.Alert.AutoResolve,
	}, nil
}

func lockKey(tenantID string) string {
	return "alert:" + tenantID
}

func (s *Service) EvaluateAndAlert(ctx context.Context, tenantID string, metric usagedomain.MetricType, pct float64) (*alertdomain.BillingAlert, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, alertdomain.ErrInvalidTenant
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %q", alertdomain.ErrInvalidMetric, metric)
	}
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
		return nil, fmt.Errorf("%w: %v", alertdomain.ErrInvalidPercentage, pct)
	}

	level, breached := s.thresholds.Level(pct)
	if !breached && !s.autoResolve {
		return nil, nil
	}

	release, err := s.locker.Lock(ctx, lockKey(tenantID))
	if err != nil {
		return nil, fmt.Errorf("lock tenant alerts: %w", err)
	}
	defer release()

	now := s.clock.Now().UTC()
	if !breached {
		resolved, err := s.repo.ResolveMetric(ctx, s.db, tenantID, metric, now)
		if err != nil {
			return nil, fmt.Errorf("auto-resolve alerts: %w", pkgdb.Classify(err))
		}
		if resolved > 0 {
			s.log.Info("alerts auto-resolved",
				zap.String("tenant_id", tenantID),
				zap.String("metric_type", string(metric)),
				zap.Float64("percentage", pct),
				zap.Int64("resolved", resolved),
			)
		}
		return nil, nil
	}

	alert := &alertdomain.BillingAlert{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		MetricType: metric,
		Level:      level,
		Message:    alertMessage(metric, level, pct),
		Percentage: pct,
		Active:     true,
		CreatedAt:  now,
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, alert)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", pkgdb.Classify(err))
	}
	if !inserted {
		return nil, nil
	}

	s.obsMetrics.RecordAlertRaised(ctx, string(metric), string(level))
	s.log.Warn("billing alert raised",
		zap.String("tenant_id", tenantID),
		zap.String("metric_type", string(metric)),
		zap.String("level", string(level)),
		zap.Float64("percentage", pct),
		zap.String("alert_id", alert.ID.String()),
	)
	return alert, nil
}

func (s *Service) ListActiveAlerts(ctx context.Context, tenantID string) ([]alertdomain.BillingAlert, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, alertdomain.ErrInvalidTenant
	}
	rows, err := s.repo.ListActive(ctx, s.db, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", pkgdb.Classify(err))
	}
	return rows, nil
}

// ResolveAlert clears an active alert. Resolving an already resolved alert
// is a no-op; an unknown id returns ErrAlertNotFound.
func (s *Service) ResolveAlert(ctx context.Context, id snowflake.ID) error {
	alert, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return fmt.Errorf("find alert: %w", pkgdb.Classify(err))
	}
	if alert == nil {
		return fmt.Errorf("%w: %s", alertdomain.ErrAlertNotFound, id)
	}
	if !alert.Active {
		return nil
	}

	release, err := s.locker.Lock(ctx, lockKey(alert.TenantID))
	if err != nil {
		return fmt.Errorf("lock tenant alerts: %w", err)
	}
	defer release()

	if _, err := s.repo.Resolve(ctx, s.db, id, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("resolve alert: %w", pkgdb.Classify(err))
	}
	s.log.Info("billing alert resolved",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", id.String()),
	)
	return nil
}

func (s *Service) PendingNotifications(ctx context.Context, limit int) ([]alertdomain.BillingAlert, error) {
	rows, err := s.repo.ListPendingNotification(ctx, s.db, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", pkgdb.Classify(err))
	}
	return rows, nil
}

func (s *Service) MarkNotified(ctx context.Context, id snowflake.ID, at time.Time) error {
	if err := s.repo.MarkNotified(ctx, s.db, id, at.UTC()); err != nil {
		return fmt.Errorf("mark alert notified: %w", pkgdb.Classify(err))
	}
	return nil
}

func alertMessage(metric usagedomain.MetricType, level alertdomain.Level, pct float64) string {
	verb := "is approaching"
	if level == alertdomain.LevelCritical {
		verb = "has nearly exhausted"
	}
	if pct >= 100 {
		verb = "has exceeded"
	}
	return fmt.Sprintf("%s usage %s its quota (%.1f%%)", metric, verb, pct)
}
