package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/internal/clock"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/smallbiznis/meterline/internal/usage/repository"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       usagedomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Ledger {
	return newService(p, repository.Provide(p.DB))
}

func newService(p ServiceParam, repo usagedomain.Repository) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageSample, error) {
	if err := validateRecord(req); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	observedAt := req.ObservedAt.UTC()
	if req.ObservedAt.IsZero() {
		observedAt = now
	}

	sample := &usagedomain.UsageSample{
		ID:                s.genID.Generate(),
		TenantID:          strings.TrimSpace(req.TenantID),
		ServiceInstanceID: strings.TrimSpace(req.ServiceInstanceID),
		MetricType:        req.MetricType,
		Value:             req.Value,
		ObservedAt:        observedAt,
		CreatedAt:         now,
	}
	if len(req.Metadata) > 0 {
		sample.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, sample); err != nil {
		return nil, fmt.Errorf("record usage sample: %w", pkgdb.Classify(err))
	}

	source := "api"
	if sample.ServiceInstanceID != "" {
		source = "collector"
	}
	s.obsMetrics.RecordUsageSample(ctx, string(sample.MetricType), source)
	return sample, nil
}

func (s *Service) Query(ctx context.Context, tenantID string, from, to time.Time) ([]usagedomain.UsageSample, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	if to.Before(from) {
		return nil, usagedomain.ErrInvalidRange
	}
	rows, err := s.repo.FindByTenantRange(ctx, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query usage samples: %w", pkgdb.Classify(err))
	}
	return rows, nil
}

func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	removed, err := s.repo.DeleteCreatedBefore(ctx, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune usage samples: %w", pkgdb.Classify(err))
	}
	if removed > 0 {
		s.log.Info("pruned usage samples",
			zap.Int64("removed", removed),
			zap.Time("cutoff", olderThan.UTC()),
		)
	}
	return removed, nil
}

func validateRecord(req usagedomain.RecordRequest) error {
	if strings.TrimSpace(req.TenantID) == "" {
		return usagedomain.ErrInvalidTenant
	}
	if !req.MetricType.Valid() {
		return fmt.Errorf("%w: unknown metric type %q", usagedomain.ErrInvalidSample, req.MetricType)
	}
	if math.IsNaN(req.Value) || math.IsInf(req.Value, 0) {
		return fmt.Errorf("%w: value must be finite", usagedomain.ErrInvalidSample)
	}
	if req.Value < 0 {
		return fmt.Errorf("%w: value must be non-negative", usagedomain.ErrInvalidSample)
	}
	return nil
}
