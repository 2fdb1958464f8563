package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/core/port"
)

// PolicyMetricsOptions configures the policy engine collectors.
type PolicyMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// PolicyMetrics records evaluator decisions, cache loads, invalidations and gate rejections.
type PolicyMetrics struct {
	Decisions             *prometheus.CounterVec
	DecisionDuration      *prometheus.HistogramVec
	CacheLoads            *prometheus.CounterVec
	Invalidations         *prometheus.CounterVec
	MaintenanceRejections prometheus.Counter
	BreakerState          *prometheus.GaugeVec
}

// NewPolicyMetrics registers the collectors, reusing any already registered under the same name.
func NewPolicyMetrics(opts PolicyMetricsOptions) (*PolicyMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "authz"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1}
	}

	decisions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Permission validations partitioned by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "policy",
		Name:      "decision_duration_seconds",
		Help:      "Latency of permission validations in seconds.",
		Buckets:   buckets,
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	loads, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "loads_total",
		Help:      "Cold loads of cached tables partitioned by table and outcome.",
	}, []string{"table", "success"}))
	if err != nil {
		return nil, err
	}

	invalidations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Change notices applied partitioned by change kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}

	rejections, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "maintenance_rejections_total",
		Help:      "Requests turned away while maintenance mode was on.",
	}))
	if err != nil {
		return nil, err
	}

	breaker, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "breaker_open",
		Help:      "1 while the named circuit breaker is open, 0.5 while half-open, 0 when closed.",
	}, []string{"breaker"}))
	if err != nil {
		return nil, err
	}

	return &PolicyMetrics{
		Decisions:             decisions,
		DecisionDuration:      duration,
		CacheLoads:            loads,
		Invalidations:         invalidations,
		MaintenanceRejections: rejections,
		BreakerState:          breaker,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return collector, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}

var _ port.PolicyMetrics = (*PolicyMetrics)(nil)

func (m *PolicyMetrics) ObserveDecision(result domain.ValidationResult, duration time.Duration) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(result.String()).Inc()
	m.DecisionDuration.WithLabelValues(result.String()).Observe(duration.Seconds())
}

func (m *PolicyMetrics) IncCacheLoad(table string, success bool) {
	if m == nil {
		return
	}
	m.CacheLoads.WithLabelValues(table, strconv.FormatBool(success)).Inc()
}

func (m *PolicyMetrics) IncInvalidation(kind domain.ChangeKind) {
	if m == nil {
		return
	}
	m.Invalidations.WithLabelValues(string(kind)).Inc()
}

func (m *PolicyMetrics) IncMaintenanceRejection() {
	if m == nil {
		return
	}
	m.MaintenanceRejections.Inc()
}

// SetBreakerState exports breaker transitions as a gauge.
func (m *PolicyMetrics) SetBreakerState(name string, state string) {
	if m == nil {
		return
	}
	value := 0.0
	switch state {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.BreakerState.WithLabelValues(name).Set(value)
}
