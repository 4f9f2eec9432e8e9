package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/smallbiznis/meterline/internal/tenant"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const billingLockKey = "worker:billing"

// EvaluateOnce refreshes the running totals of every active tenant, raises
// alerts for metrics past their thresholds and prunes expired samples. Only
// one replica evaluates at a time; the others skip the cycle. An unreachable
// store fails the cycle before pruning.
func (w *Worker) EvaluateOnce(ctx context.Context) error {
	release, ok, err := w.locker.TryLock(ctx, billingLockKey)
	if err != nil {
		return fmt.Errorf("acquire billing lock: %w", err)
	}
	if !ok {
		w.logger(ctx).Debug("worker.billing.skipped", zap.String("reason", "lock_held"))
		return nil
	}
	defer release()

	w.metrics.SetPhase(LoopBilling, phaseEvaluating, phases)
	tenants, err := w.tenants.GetActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	var storeDown atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.CollectConcurrency)
	for _, t := range tenants {
		g.Go(func() error {
			tctx := withTenant(gctx, t.ID)
			if err := w.evaluateTenant(tctx, t); err != nil {
				if errors.Is(err, pkgdb.ErrStoreUnavailable) {
					storeDown.Store(true)
				}
				w.logItemError(tctx, "worker.billing.tenant_failed", "tenant", err,
					zap.String("plan", t.Plan),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if storeDown.Load() {
		return fmt.Errorf("evaluate tenants: %w", pkgdb.ErrStoreUnavailable)
	}

	w.metrics.SetPhase(LoopBilling, phasePruning, phases)
	cutoff := w.clock.Now().Add(-w.cfg.Retention)
	pruned, err := w.ledger.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune usage: %w", err)
	}
	w.metrics.AddPruned(pruned)
	if pruned > 0 {
		w.logger(ctx).Info("worker.billing.pruned",
			zap.Int64("deleted", pruned),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}

func (w *Worker) evaluateTenant(ctx context.Context, t tenant.Tenant) error {
	release, err := w.locker.Lock(ctx, "billing:"+t.ID)
	if err != nil {
		return err
	}
	defer release()

	snap, err := w.quotas.GetQuotas(ctx, t.ID)
	if err != nil {
		return err
	}
	if err := w.totals.Set(ctx, t.ID, snap.Current()); err != nil {
		w.logItemError(ctx, "worker.billing.totals_failed", "totals", err)
	}

	raised := 0
	for _, m := range usagedomain.MetricTypes() {
		usage, ok := snap.Metrics[m]
		if !ok {
			continue
		}
		alert, err := w.alerts.EvaluateAndAlert(ctx, t.ID, m, usage.Percentage)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", m, err)
		}
		if alert != nil {
			raised++
			w.logger(ctx).Info("worker.billing.alert_raised",
				zap.String("alert_id", alert.ID.String()),
				zap.String("metric", string(m)),
				zap.String("level", string(alert.Level)),
				zap.Float64("percentage", usage.Percentage),
			)
		}
	}

	cycleRunFromContext(ctx).AddProcessed(1)
	w.metrics.AddProcessed(LoopBilling, "tenant", 1)
	w.metrics.AddProcessed(LoopBilling, "alert", raised)
	return nil
}
