package pricing

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterline/internal/config"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Provider hands out the current catalog. Callers must not cache the result
// across operations.
type Provider interface {
	Catalog() *Catalog
}

type staticProvider struct {
	catalog *Catalog
}

// Static wraps a fixed catalog.
func Static(c *Catalog) Provider {
	return staticProvider{catalog: c}
}

func (p staticProvider) Catalog() *Catalog { return p.catalog }

type planFile struct {
	Name   string             `mapstructure:"name"`
	Quotas map[string]float64 `mapstructure:"quotas"`
	Prices map[string]string  `mapstructure:"prices"`
}

type catalogFile struct {
	Version string     `mapstructure:"version"`
	Plans   []planFile `mapstructure:"plans"`
}

// CatalogHolder keeps the active catalog and swaps it when the pricing file
// changes. Invalid reloads are logged and ignored.
type CatalogHolder struct {
	current atomic.Pointer[Catalog]
	log     *zap.Logger
}

// NewCatalogHolder loads pricing.yml from cfg.PricingFile or the standard
// search paths. A missing file yields the built-in catalog.
func NewCatalogHolder(cfg config.Config, log *zap.Logger) (*CatalogHolder, error) {
	holder := &CatalogHolder{log: log.Named("pricing.catalog")}

	v := viper.New()
	if path := strings.TrimSpace(cfg.PricingFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/meterline")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read pricing catalog: %w", err)
		}
		holder.current.Store(DefaultCatalog())
		holder.log.Info("pricing file not found, using built-in catalog")
		return holder, nil
	}

	catalog, err := decodeCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)
	holder.log.Info("pricing catalog loaded",
		zap.String("file", v.ConfigFileUsed()),
		zap.String("version", catalog.Version()),
		zap.Strings("plans", catalog.Plans()),
	)

	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(v, e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *CatalogHolder) Catalog() *Catalog {
	return h.current.Load()
}

func (h *CatalogHolder) reload(v *viper.Viper, source string) {
	updated, err := decodeCatalog(v)
	if err != nil {
		h.log.Warn("invalid pricing catalog ignored", zap.String("file", source), zap.Error(err))
		return
	}
	h.current.Store(updated)
	h.log.Info("pricing catalog reloaded",
		zap.String("file", source),
		zap.String("version", updated.Version()),
	)
}

func decodeCatalog(v *viper.Viper) (*Catalog, error) {
	var file catalogFile
	if err := v.UnmarshalKey("pricing", &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("%w: pricing.plans cannot be empty", ErrInvalidCatalog)
	}

	tiers := make([]PlanTier, 0, len(file.Plans))
	for _, plan := range file.Plans {
		tier := PlanTier{
			Name:   plan.Name,
			Quotas: make(map[usagedomain.MetricType]float64, len(plan.Quotas)),
			Prices: make(map[usagedomain.MetricType]decimal.Decimal, len(plan.Prices)),
		}
		for name, quota := range plan.Quotas {
			metric, ok := usagedomain.ParseMetricType(name)
			if !ok {
				return nil, fmt.Errorf("%w: plan %q quotas unknown metric %q", ErrInvalidCatalog, plan.Name, name)
			}
			tier.Quotas[metric] = quota
		}
		for name, raw := range plan.Prices {
			metric, ok := usagedomain.ParseMetricType(name)
			if !ok {
				return nil, fmt.Errorf("%w: plan %q prices unknown metric %q", ErrInvalidCatalog, plan.Name, name)
			}
			price, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("%w: plan %q price for %s: %v", ErrInvalidCatalog, plan.Name, name, err)
			}
			tier.Prices[metric] = price
		}
		tiers = append(tiers, tier)
	}
	return NewCatalog(file.Version, tiers...)
}
