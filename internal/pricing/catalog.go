// Package pricing holds the plan catalog: per-plan quotas and unit prices
// for every metered metric.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

var (
	ErrUnknownPlan    = errors.New("unknown_plan")
	ErrInvalidCatalog = errors.New("invalid_catalog")
)

// PlanTier is a catalog entry. Storage is priced per GiB-month, every other
// metric per unit.
type PlanTier struct {
	Name   string                                     `json:"name"`
	Quotas map[usagedomain.MetricType]float64         `json:"quotas"`
	Prices map[usagedomain.MetricType]decimal.Decimal `json:"prices"`
}

func (p PlanTier) Quota(m usagedomain.MetricType) float64 {
	return p.Quotas[m]
}

func (p PlanTier) Price(m usagedomain.MetricType) decimal.Decimal {
	return p.Prices[m]
}

// Catalog is an immutable set of plan tiers. Use NewCatalog to build one.
type Catalog struct {
	version string
	tiers   map[string]PlanTier
}

// NewCatalog validates tiers and returns the catalog. Every metered metric
// needs a non-negative quota and price in every plan, and the default plan
// must exist.
func NewCatalog(version string, tiers ...PlanTier) (*Catalog, error) {
	c := &Catalog{
		version: strings.TrimSpace(version),
		tiers:   make(map[string]PlanTier, len(tiers)),
	}
	for _, tier := range tiers {
		key := normalizePlan(tier.Name)
		if key == "" {
			return nil, fmt.Errorf("%w: plan name is required", ErrInvalidCatalog)
		}
		if _, dup := c.tiers[key]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, tier.Name)
		}
		if err := validateTier(tier); err != nil {
			return nil, err
		}
		c.tiers[key] = copyTier(tier)
	}
	if _, ok := c.tiers[PlanFree]; !ok {
		return nil, fmt.Errorf("%w: default plan %q is missing", ErrInvalidCatalog, PlanFree)
	}
	return c, nil
}

func (c *Catalog) Version() string { return c.version }

// GetTier returns the tier for plan or ErrUnknownPlan.
func (c *Catalog) GetTier(plan string) (PlanTier, error) {
	tier, ok := c.tiers[normalizePlan(plan)]
	if !ok {
		return PlanTier{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return copyTier(tier), nil
}

// Plans lists plan names in sorted order.
func (c *Catalog) Plans() []string {
	out := make([]string, 0, len(c.tiers))
	for _, tier := range c.tiers {
		out = append(out, tier.Name)
	}
	sort.Strings(out)
	return out
}

func validateTier(tier PlanTier) error {
	for _, m := range usagedomain.MetricTypes() {
		quota, ok := tier.Quotas[m]
		if !ok {
			return fmt.Errorf("%w: plan %q has no quota for %s", ErrInvalidCatalog, tier.Name, m)
		}
		if quota < 0 {
			return fmt.Errorf("%w: plan %q has a negative quota for %s", ErrInvalidCatalog, tier.Name, m)
		}
		price, ok := tier.Prices[m]
		if !ok {
			return fmt.Errorf("%w: plan %q has no price for %s", ErrInvalidCatalog, tier.Name, m)
		}
		if price.IsNegative() {
			return fmt.Errorf("%w: plan %q has a negative price for %s", ErrInvalidCatalog, tier.Name, m)
		}
	}
	return nil
}

func copyTier(tier PlanTier) PlanTier {
	out := PlanTier{
		Name:   tier.Name,
		Quotas: make(map[usagedomain.MetricType]float64, len(tier.Quotas)),
		Prices: make(map[usagedomain.MetricType]decimal.Decimal, len(tier.Prices)),
	}
	for k, v := range tier.Quotas {
		out.Quotas[k] = v
	}
	for k, v := range tier.Prices {
		out.Prices[k] = v
	}
	return out
}

func normalizePlan(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}
