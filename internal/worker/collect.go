package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/smallbiznis/meterline/internal/provisioning"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CollectOnce snapshots every running service instance and appends the
// reported metrics to the ledger. A failing instance is logged and skipped.
// The cycle fails when the instance list cannot be read or the store is
// unreachable.
func (w *Worker) CollectOnce(ctx context.Context) error {
	w.metrics.SetPhase(LoopMetrics, phaseCollecting, phases)

	instances, err := w.instances.GetRunningServiceInstances(ctx)
	if err != nil {
		return fmt.Errorf("list running instances: %w", err)
	}

	var storeDown atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.CollectConcurrency)
	for _, inst := range instances {
		g.Go(func() error {
			if err := w.collectInstance(gctx, inst); err != nil {
				if errors.Is(err, pkgdb.ErrStoreUnavailable) {
					storeDown.Store(true)
				}
				w.logItemError(withTenant(gctx, inst.TenantID), "worker.collect.instance_failed", "instance", err,
					zap.String("instance_id", inst.ID),
					zap.String("service_type", inst.ServiceType),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if storeDown.Load() {
		return fmt.Errorf("record usage: %w", pkgdb.ErrStoreUnavailable)
	}
	return nil
}

func (w *Worker) collectInstance(ctx context.Context, inst provisioning.ServiceInstance) error {
	snap, err := w.registry.Snapshot(ctx, inst)
	if err != nil {
		return err
	}

	observedAt := snap.Timestamp
	if observedAt.IsZero() {
		observedAt = w.clock.Now()
	}

	recorded := 0
	for name, value := range snap.Values {
		metric, ok := usagedomain.ParseMetricType(name)
		if !ok {
			w.logger(ctx).Warn("worker.collect.unknown_metric",
				zap.String("instance_id", inst.ID),
				zap.String("metric", name),
			)
			continue
		}
		_, err := w.ledger.Record(ctx, usagedomain.RecordRequest{
			TenantID:          inst.TenantID,
			ServiceInstanceID: inst.ID,
			MetricType:        metric,
			Value:             value,
			ObservedAt:        observedAt,
			Metadata:          map[string]any{"service_type": inst.ServiceType},
		})
		if err != nil {
			return fmt.Errorf("record %s: %w", metric, err)
		}
		recorded++
		if err := w.totals.Add(ctx, inst.TenantID, metric, value); err != nil {
			w.logItemError(ctx, "worker.collect.totals_failed", "totals", err,
				zap.String("instance_id", inst.ID),
			)
		}
	}

	cycleRunFromContext(ctx).AddProcessed(1)
	w.metrics.AddProcessed(LoopMetrics, "instance", 1)
	w.metrics.AddProcessed(LoopMetrics, "sample", recorded)
	return nil
}
