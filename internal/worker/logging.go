package worker

import (
	"context"
	"sync/atomic"
	"time"

	obscontext "github.com/smallbiznis/meterline/internal/observability/context"
	obslogger "github.com/smallbiznis/meterline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	"go.uber.org/zap"
)

type cycleRun struct {
	loop       string
	runID      string
	startedAt  time.Time
	processed  atomic.Int64
	errorCount atomic.Int64
}

type cycleRunKey struct{}

func (r *cycleRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processed.Add(int64(count))
}

func (r *cycleRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount.Add(1)
}

func withCycleRun(ctx context.Context, run *cycleRun) context.Context {
	return context.WithValue(ctx, cycleRunKey{}, run)
}

func cycleRunFromContext(ctx context.Context) *cycleRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(cycleRunKey{}).(*cycleRun)
	return run
}

func (w *Worker) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, w.log)
}

func (w *Worker) logCycleStart(ctx context.Context, run *cycleRun) {
	w.logger(ctx).Debug("worker.cycle.start", zap.String("loop", run.loop))
}

func (w *Worker) logCycleFinish(ctx context.Context, run *cycleRun, err error) {
	fields := []zap.Field{
		zap.String("loop", run.loop),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int64("processed_count", run.processed.Load()),
		zap.Int64("error_count", run.errorCount.Load()),
	}
	log := w.logger(ctx)
	switch {
	case err != nil:
		log.Error("worker.cycle.failed", append(fields,
			zap.String("error_type", obsmetrics.ClassifyWorkerReason(err)),
			zap.Error(err),
		)...)
	case run.errorCount.Load() > 0:
		log.Warn("worker.cycle.finish", fields...)
	default:
		log.Info("worker.cycle.finish", fields...)
	}
}

// logItemError records a per-item failure that does not fail the cycle.
func (w *Worker) logItemError(ctx context.Context, msg, resource string, err error, fields ...zap.Field) {
	run := cycleRunFromContext(ctx)
	run.IncError()
	loop := ""
	if run != nil {
		loop = run.loop
	}
	w.metrics.IncItemFailure(loop, resource, err)

	base := []zap.Field{
		zap.String("loop", loop),
		zap.String("error_type", obsmetrics.ClassifyWorkerReason(err)),
		zap.Error(err),
	}
	w.logger(ctx).Warn(msg, append(base, fields...)...)
}

func withTenant(ctx context.Context, tenantID string) context.Context {
	return obscontext.WithTenantID(ctx, tenantID)
}
