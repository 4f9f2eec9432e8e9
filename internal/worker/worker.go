// Package worker runs the periodic aggregation loops: metric collection,
// billing evaluation and alert notification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/notification"
	obscontext "github.com/smallbiznis/meterline/internal/observability/context"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	"github.com/smallbiznis/meterline/internal/observability/tracing"
	"github.com/smallbiznis/meterline/internal/provisioning"
	"github.com/smallbiznis/meterline/internal/quota"
	"github.com/smallbiznis/meterline/internal/tenant"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/smallbiznis/meterline/pkg/lock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	LoopMetrics       = "metrics"
	LoopBilling       = "billing"
	LoopNotifications = "notifications"
)

const (
	phaseIdle       = "idle"
	phaseCollecting = "collecting"
	phaseEvaluating = "evaluating"
	phasePruning    = "pruning"
	phaseNotifying  = "notifying"
)

var phases = []string{phaseIdle, phaseCollecting, phaseEvaluating, phasePruning, phaseNotifying}

var ErrInvalidConfig = errors.New("invalid_worker_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     Config
	Clock      clock.Clock
	Instances  provisioning.InstanceDirectory
	Registry   *provisioning.Registry
	Tenants    tenant.Directory
	Totals     tenant.TotalsCache
	Ledger     usagedomain.Ledger
	Quotas     quota.Service
	Alerts     alertdomain.Service
	Dispatcher notification.Dispatcher
	Locker     lock.Locker
	Metrics    *obsmetrics.WorkerMetrics `optional:"true"`
}

type Worker struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	tracer     trace.Tracer
	instances  provisioning.InstanceDirectory
	registry   *provisioning.Registry
	tenants    tenant.Directory
	totals     tenant.TotalsCache
	ledger     usagedomain.Ledger
	quotas     quota.Service
	alerts     alertdomain.Service
	dispatcher notification.Dispatcher
	locker     lock.Locker
	metrics    *obsmetrics.WorkerMetrics

	// scheduled is called after each cycle with the delay until the next one.
	scheduled func(loop string, delay time.Duration)
}

func New(p Params) (*Worker, error) {
	if p.Log == nil || p.Clock == nil || p.Instances == nil || p.Registry == nil || p.Tenants == nil ||
		p.Totals == nil || p.Ledger == nil || p.Quotas == nil || p.Alerts == nil || p.Dispatcher == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	return &Worker{
		log:        p.Log.Named("worker").With(zap.String("component", "worker")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		tracer:     otel.Tracer("meterline/worker"),
		instances:  p.Instances,
		registry:   p.Registry,
		tenants:    p.Tenants,
		totals:     p.Totals,
		ledger:     p.Ledger,
		quotas:     p.Quotas,
		alerts:     p.Alerts,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
		metrics:    p.Metrics,
	}, nil
}

type loop struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (w *Worker) loops() []loop {
	return []loop{
		{name: LoopMetrics, interval: w.cfg.MetricsInterval, run: w.CollectOnce},
		{name: LoopBilling, interval: w.cfg.BillingInterval, run: w.EvaluateOnce},
		{name: LoopNotifications, interval: w.cfg.NotifyInterval, run: w.NotifyOnce},
	}
}

// RunForever runs every loop until ctx is cancelled.
func (w *Worker) RunForever(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range w.loops() {
		wg.Add(1)
		go func(l loop) {
			defer wg.Done()
			w.runLoop(ctx, l)
		}(l)
	}
	wg.Wait()
}

// RunOnce runs one cycle of every loop in order.
func (w *Worker) RunOnce(ctx context.Context) error {
	var err error
	for _, l := range w.loops() {
		err = errors.Join(err, w.runCycle(ctx, l))
	}
	return err
}

// runLoop runs l immediately and then on every tick. A failed cycle moves
// the next attempt to the backoff delay instead of the interval.
// Cancellation is observed between cycles only.
func (w *Worker) runLoop(ctx context.Context, l loop) {
	ticker := w.clock.NewTicker(l.interval)
	defer ticker.Stop()
	w.metrics.SetPhase(l.name, phaseIdle, phases)

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return
		}
		next := l.interval
		if err := w.runCycle(ctx, l); err != nil {
			backoff = w.cfg.nextBackoff(backoff)
			next = backoff
		} else {
			backoff = 0
		}
		ticker.Reset(next)
		w.metrics.SetNextDelay(l.name, next)
		if w.scheduled != nil {
			w.scheduled(l.name, next)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// runCycle runs a single cycle detached from the caller's cancellation so
// an in-flight cycle finishes; the loop interval bounds its duration.
func (w *Worker) runCycle(parent context.Context, l loop) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.interval)
	defer cancel()

	ctx, runID := tracing.EnsureRunID(ctx)
	ctx = obscontext.WithActor(ctx, "system", "worker")
	ctx, span := w.tracer.Start(ctx, "worker."+l.name, trace.WithAttributes(
		attribute.String("worker.loop", l.name),
		attribute.String("worker.run_id", runID),
	))
	defer span.End()

	run := &cycleRun{loop: l.name, runID: runID, startedAt: time.Now()}
	ctx = withCycleRun(ctx, run)
	w.logCycleStart(ctx, run)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, panicError(r))
			w.logger(ctx).Error("worker.cycle.panic", zap.Any("panic", r), zap.Stack("stack"))
		}
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, obsmetrics.ClassifyWorkerReason(err))
		}
		w.metrics.ObserveCycle(l.name, time.Since(run.startedAt), err)
		w.metrics.SetPhase(l.name, phaseIdle, phases)
		w.logCycleFinish(ctx, run, err)
	}()

	return l.run(ctx)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("worker panic: %w", err)
	}
	return fmt.Errorf("worker panic: %v", r)
}
