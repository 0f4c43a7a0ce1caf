package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	DispatchReasonDeadlineExceeded     = "deadline_exceeded"
	DispatchReasonDBLockTimeout        = "db_lock_timeout"
	DispatchReasonSerializationFailure = "serialization_failure"
	DispatchReasonUniqueViolation      = "unique_violation"
	DispatchReasonLockUnavailable      = "lock_unavailable"
	DispatchReasonUnknown              = "unknown"
)

// ErrLockUnavailable is returned when another worker holds the pump lock.
var ErrLockUnavailable = errors.New("dispatch lock unavailable")

// DispatchMetrics captures queue pump health per provider type.
type DispatchMetrics struct {
	pumpRuns     *prometheus.CounterVec
	pumpDuration *prometheus.HistogramVec
	pumpErrors   *prometheus.CounterVec
	pumpSkipped  *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
	submitFailed *prometheus.CounterVec
	runLoopLag   prometheus.Observer
}

var (
	dispatchMetricsOnce sync.Once
	dispatchMetrics     *DispatchMetrics
)

// Dispatch returns the singleton dispatch metrics registry.
func Dispatch() *DispatchMetrics {
	return DispatchWithConfig(Config{})
}

// DispatchWithConfig returns the singleton dispatch metrics registry using config labels.
func DispatchWithConfig(cfg Config) *DispatchMetrics {
	dispatchMetricsOnce.Do(func() {
		dispatchMetrics = NewDispatchMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return dispatchMetrics
}

// NewDispatchMetrics registers a fresh set of collectors, used directly by tests.
func NewDispatchMetrics(registerer prometheus.Registerer, cfg Config) *DispatchMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "mediaforge"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &DispatchMetrics{
		pumpRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mediaforge_dispatch_pump_runs_total",
			Help:        "Dispatch pump runs by provider type.",
			ConstLabels: constLabels,
		}, []string{"provider"}),
		pumpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "mediaforge_dispatch_pump_duration_seconds",
			Help:        "Dispatch pump latency including outbound provider calls.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"provider"}),
		pumpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mediaforge_dispatch_pump_errors_total",
			Help:        "Dispatch pump errors by provider type and reason.",
			ConstLabels: constLabels,
		}, []string{"provider", "reason"}),
		pumpSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mediaforge_dispatch_pump_skipped_total",
			Help:        "Pumps that dispatched nothing because a limit was reached.",
			ConstLabels: constLabels,
		}, []string{"provider", "reason"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mediaforge_dispatch_entries_dispatched_total",
			Help:        "Queue entries submitted to a provider.",
			ConstLabels: constLabels,
		}, []string{"provider"}),
		submitFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mediaforge_dispatch_submission_failures_total",
			Help:        "Queue entries marked failed after a provider submission error.",
			ConstLabels: constLabels,
		}, []string{"provider"}),
	}
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "mediaforge_dispatch_run_loop_lag_seconds",
		Help:        "Lag between the scheduled tick and the actual worker run.",
		Buckets:     []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	registerer.MustRegister(
		m.pumpRuns,
		m.pumpDuration,
		m.pumpErrors,
		m.pumpSkipped,
		m.dispatched,
		m.submitFailed,
		runLoopLag,
	)
	return m
}

func (m *DispatchMetrics) IncPumpRun(provider string) {
	if m == nil {
		return
	}
	m.pumpRuns.WithLabelValues(provider).Inc()
}

func (m *DispatchMetrics) ObservePumpDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pumpDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncPumpError increments the pump error counter with classification.
func (m *DispatchMetrics) IncPumpError(provider string, err error) {
	if m == nil || err == nil {
		return
	}
	m.pumpErrors.WithLabelValues(provider, ClassifyDispatchReason(err)).Inc()
}

func (m *DispatchMetrics) IncPumpSkipped(provider, reason string) {
	if m == nil || reason == "" {
		return
	}
	m.pumpSkipped.WithLabelValues(provider, reason).Inc()
}

func (m *DispatchMetrics) AddDispatched(provider string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dispatched.WithLabelValues(provider).Add(float64(count))
}

func (m *DispatchMetrics) IncSubmissionFailed(provider string) {
	if m == nil {
		return
	}
	m.submitFailed.WithLabelValues(provider).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *DispatchMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyDispatchReason maps pump errors to low-cardinality reasons.
func ClassifyDispatchReason(err error) string {
	if err == nil {
		return DispatchReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DispatchReasonDeadlineExceeded
	}
	if errors.Is(err, ErrLockUnavailable) {
		return DispatchReasonLockUnavailable
	}
	if hasPGCode(err, "55P03") {
		return DispatchReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") || hasPGCode(err, "40P01") {
		return DispatchReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return DispatchReasonUniqueViolation
	}
	return DispatchReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
