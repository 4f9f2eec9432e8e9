package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NotifyOnce delivers pending alert notifications and marks the delivered
// ones. Undelivered alerts stay pending for the next cycle.
func (w *Worker) NotifyOnce(ctx context.Context) error {
	w.metrics.SetPhase(LoopNotifications, phaseNotifying, phases)

	pending, err := w.alerts.PendingNotifications(ctx, w.cfg.NotifyBatchSize)
	if err != nil {
		return fmt.Errorf("list pending notifications: %w", err)
	}

	for _, alert := range pending {
		actx := withTenant(ctx, alert.TenantID)
		if err := w.dispatcher.Notify(actx, alert); err != nil {
			w.logItemError(actx, "worker.notify.failed", "notification", err,
				zap.String("alert_id", alert.ID.String()),
			)
			continue
		}
		if err := w.alerts.MarkNotified(actx, alert.ID, w.clock.Now()); err != nil {
			w.logItemError(actx, "worker.notify.mark_failed", "notification", err,
				zap.String("alert_id", alert.ID.String()),
			)
			continue
		}
		cycleRunFromContext(ctx).AddProcessed(1)
		w.metrics.AddProcessed(LoopNotifications, "notification", 1)
	}
	return nil
}
