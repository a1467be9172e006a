package prometheus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	TickBuckets     []float64
}

// DefaultTaskBuckets suit main-thread tasks, which are expected to finish
// well under a millisecond.
var DefaultTaskBuckets = []float64{.00001, .00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec

	tickTotal            prom.Counter
	tickDurationSeconds  prom.Histogram
	redistributedTotal   *prom.CounterVec
	forcedLowTotal       *prom.CounterVec
	passCapReachedTotal  prom.Counter
	budgetExhaustedTotal prom.Counter
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "mainthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = DefaultTaskBuckets
	}
	tickBuckets := opts.TickBuckets
	if len(tickBuckets) == 0 {
		tickBuckets = prom.ExponentialBuckets(.0001, 2, 12)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"priority", "origin"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"priority", "module"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"priority", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Pending tasks per priority class at the end of the last tick.",
	}, []string{"priority"})

	tickCounter := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tick_total",
		Help:      "Total number of scheduler ticks.",
	})
	tickHist := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of a tick in seconds.",
		Buckets:   tickBuckets,
	})
	redistributedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "redistributed_total",
		Help:      "Tasks run on credits redistributed from idle classes.",
	}, []string{"priority"})
	forcedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "forced_low_total",
		Help:      "LOW tasks run by the starvation guard.",
	}, []string{"reason"})
	passCapCounter := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pass_cap_reached_total",
		Help:      "Ticks whose drain loop stopped at the pass cap.",
	})
	budgetCounter := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "budget_exhausted_total",
		Help:      "Ticks that ran out of their time budget.",
	})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if tickCounter, err = registerCollector(reg, tickCounter); err != nil {
		return nil, err
	}
	if tickHist, err = registerCollector(reg, tickHist); err != nil {
		return nil, err
	}
	if redistributedVec, err = registerCollector(reg, redistributedVec); err != nil {
		return nil, err
	}
	if forcedVec, err = registerCollector(reg, forcedVec); err != nil {
		return nil, err
	}
	if passCapCounter, err = registerCollector(reg, passCapCounter); err != nil {
		return nil, err
	}
	if budgetCounter, err = registerCollector(reg, budgetCounter); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds:  durationVec,
		taskPanicTotal:       panicVec,
		taskRejectedTotal:    rejectedVec,
		queueDepth:           queueDepthVec,
		tickTotal:            tickCounter,
		tickDurationSeconds:  tickHist,
		redistributedTotal:   redistributedVec,
		forcedLowTotal:       forcedVec,
		passCapReachedTotal:  passCapCounter,
		budgetExhaustedTotal: budgetCounter,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(priority core.Priority, origin core.ExecutionOrigin, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(priorityLabel(priority), origin.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events, labelled with the module
// prefix of the task name.
func (m *MetricsExporter) RecordTaskPanic(taskName string, priority core.Priority, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(priorityLabel(priority), core.ModuleOf(taskName)).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(priority core.Priority, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(priorityLabel(priority)).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(priority core.Priority, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(priorityLabel(priority), normalizeLabel(reason, "unknown")).Inc()
}

// RecordTick records the outcome of one tick.
func (m *MetricsExporter) RecordTick(report core.TickReport) {
	if m == nil {
		return
	}
	m.tickTotal.Inc()
	m.tickDurationSeconds.Observe(report.Duration.Seconds())
	for _, p := range core.Priorities {
		if n := report.Redistributed[p]; n > 0 {
			m.redistributedTotal.WithLabelValues(priorityLabel(p)).Add(float64(n))
		}
	}
	if report.Forced > 0 {
		m.forcedLowTotal.WithLabelValues(report.ForceReason.String()).Add(float64(report.Forced))
	}
	if report.PassCapReached {
		m.passCapReachedTotal.Inc()
	}
	if report.BudgetExhausted {
		m.budgetExhaustedTotal.Inc()
	}
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func priorityLabel(priority core.Priority) string {
	if !priority.Valid() {
		return "unknown"
	}
	return strings.ToLower(priority.String())
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
