package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"gorm.io/gorm"
)

const (
	WorkerReasonDeadlineExceeded = "deadline_exceeded"
	WorkerReasonStoreUnavailable = "store_unavailable"
	WorkerReasonDBLockTimeout    = "db_lock_timeout"
	WorkerReasonUniqueViolation  = "unique_violation"
	WorkerReasonCollector        = "collector"
	WorkerReasonUnknown          = "unknown"
)

// WorkerMetrics captures health signals for the periodic aggregation loops.
type WorkerMetrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	cycleErrors   *prometheus.CounterVec
	processed     *prometheus.CounterVec
	itemFailures  *prometheus.CounterVec
	nextDelay     *prometheus.GaugeVec
	phase         *prometheus.GaugeVec
	pruned        prometheus.Counter
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = NewWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// NewWorkerMetrics registers a fresh set of collectors on registerer.
func NewWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "meterline"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &WorkerMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterline_worker_cycles_total",
			Help:        "Worker cycles by loop and outcome.",
			ConstLabels: constLabels,
		}, []string{"loop", "outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "meterline_worker_cycle_duration_seconds",
			Help:        "Worker cycle latency by loop.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"loop"}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterline_worker_cycle_errors_total",
			Help:        "Worker cycle failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"loop", "reason"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterline_worker_items_processed_total",
			Help:        "Items processed by the worker per loop and resource.",
			ConstLabels: constLabels,
		}, []string{"loop", "resource"}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterline_worker_item_failures_total",
			Help:        "Isolated per-item failures that did not abort a cycle.",
			ConstLabels: constLabels,
		}, []string{"loop", "resource", "reason"}),
		nextDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "meterline_worker_next_delay_seconds",
			Help:        "Delay before the next cycle; above the interval means backoff.",
			ConstLabels: constLabels,
		}, []string{"loop"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "meterline_worker_phase",
			Help:        "Current phase of each loop, 1 for the active phase.",
			ConstLabels: constLabels,
		}, []string{"loop", "phase"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "meterline_usage_samples_pruned_total",
			Help:        "Usage samples removed by retention pruning.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.cycleErrors,
		m.processed,
		m.itemFailures,
		m.nextDelay,
		m.phase,
		m.pruned,
	)
	return m
}

// ObserveCycle records one finished cycle.
func (m *WorkerMetrics) ObserveCycle(loop string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		m.cycleErrors.WithLabelValues(loop, ClassifyWorkerReason(err)).Inc()
	}
	m.cycles.WithLabelValues(loop, outcome).Inc()
	m.cycleDuration.WithLabelValues(loop).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddProcessed(loop, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.processed.WithLabelValues(loop, resource).Add(float64(count))
}

func (m *WorkerMetrics) IncItemFailure(loop, resource string, err error) {
	if m == nil || err == nil {
		return
	}
	m.itemFailures.WithLabelValues(loop, resource, ClassifyWorkerReason(err)).Inc()
}

func (m *WorkerMetrics) SetNextDelay(loop string, delay time.Duration) {
	if m == nil {
		return
	}
	m.nextDelay.WithLabelValues(loop).Set(delay.Seconds())
}

// SetPhase marks phase as the active one for loop and clears the others.
func (m *WorkerMetrics) SetPhase(loop, phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.phase.WithLabelValues(loop, p).Set(value)
	}
}

func (m *WorkerMetrics) AddPruned(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.pruned.Add(float64(count))
}

// ClassifyWorkerReason maps worker errors to low-cardinality reasons.
func ClassifyWorkerReason(err error) string {
	if err == nil {
		return WorkerReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WorkerReasonDeadlineExceeded
	}
	if errors.Is(err, pkgdb.ErrStoreUnavailable) {
		return WorkerReasonStoreUnavailable
	}
	var collectorErr interface{ CollectorFailure() bool }
	if errors.As(err, &collectorErr) && collectorErr.CollectorFailure() {
		return WorkerReasonCollector
	}
	if hasPGCode(err, "55P03") {
		return WorkerReasonDBLockTimeout
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return WorkerReasonUniqueViolation
	}
	return WorkerReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
