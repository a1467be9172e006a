package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.Stats
}

// DelayedSnapshotProvider reports work parked on a delay timer.
type DelayedSnapshotProvider interface {
	PendingDelayed() int
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	delayedMu sync.RWMutex
	delayed   map[string]DelayedSnapshotProvider

	pending        *prom.GaugeVec
	processed      *prom.GaugeVec
	failed         *prom.GaugeVec
	forced         *prom.GaugeVec
	weight         *prom.GaugeVec
	avgWaitSeconds *prom.GaugeVec
	rejected       *prom.GaugeVec
	discarded      *prom.GaugeVec
	ticks          *prom.GaugeVec
	ticksSinceLow  *prom.GaugeVec
	oldestLowAge   *prom.GaugeVec
	health         *prom.GaugeVec
	shutDown       *prom.GaugeVec

	delayedPending *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	perClass := []string{"scheduler", "priority"}
	perScheduler := []string{"scheduler"}
	gauge := func(name, help string, labels []string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "mainthread",
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
		delayed:    make(map[string]DelayedSnapshotProvider),

		pending:        gauge("pending", "Pending tasks per priority class.", perClass),
		processed:      gauge("processed", "Processed task count snapshot per priority class.", perClass),
		failed:         gauge("failed", "Panicked task count snapshot per priority class.", perClass),
		forced:         gauge("forced", "Tasks run by the starvation guard per priority class.", perClass),
		weight:         gauge("weight", "Configured weight per priority class.", perClass),
		avgWaitSeconds: gauge("avg_wait_seconds", "Mean queue wait per priority class.", perClass),
		rejected:       gauge("rejected", "Rejected task count snapshot.", perScheduler),
		discarded:      gauge("discarded", "Tasks discarded at shutdown.", perScheduler),
		ticks:          gauge("ticks", "Tick count snapshot.", perScheduler),
		ticksSinceLow:  gauge("ticks_since_low", "Consecutive ticks without a LOW execution while LOW had work.", perScheduler),
		oldestLowAge:   gauge("oldest_low_age_seconds", "Age of the oldest pending LOW task.", perScheduler),
		health:         gauge("health", "Health status (0=healthy, 1=warning, 2=critical).", perScheduler),
		shutDown:       gauge("shut_down", "Scheduler shutdown state (1=shut down, 0=running).", perScheduler),
		delayedPending: gauge("delayed_pending", "Tasks waiting on a delay timer.", []string{"dispatcher"}),
	}

	for _, g := range []**prom.GaugeVec{
		&p.pending, &p.processed, &p.failed, &p.forced, &p.weight, &p.avgWaitSeconds,
		&p.rejected, &p.discarded, &p.ticks, &p.ticksSinceLow, &p.oldestLowAge,
		&p.health, &p.shutDown, &p.delayedPending,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}

	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddDelayed adds or replaces a delayed-work provider by name.
func (p *SnapshotPoller) AddDelayed(name string, provider DelayedSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "dispatcher")
	p.delayedMu.Lock()
	p.delayed[name] = provider
	p.delayedMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce takes one snapshot of every provider.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		for _, prio := range core.Priorities {
			ps := stats.PerPriority[prio]
			label := priorityLabel(prio)
			p.pending.WithLabelValues(name, label).Set(float64(stats.Pending(prio)))
			p.processed.WithLabelValues(name, label).Set(float64(ps.Processed))
			p.failed.WithLabelValues(name, label).Set(float64(ps.Failed))
			p.forced.WithLabelValues(name, label).Set(float64(ps.Forced))
			p.weight.WithLabelValues(name, label).Set(float64(stats.Weights.Of(prio)))
			p.avgWaitSeconds.WithLabelValues(name, label).Set(ps.AvgWait().Seconds())
		}
		p.rejected.WithLabelValues(name).Set(float64(stats.TotalRejected))
		p.discarded.WithLabelValues(name).Set(float64(stats.TotalDiscarded))
		p.ticks.WithLabelValues(name).Set(float64(stats.Ticks))
		p.ticksSinceLow.WithLabelValues(name).Set(float64(stats.TicksSinceLowExecution))
		p.oldestLowAge.WithLabelValues(name).Set(stats.OldestLowTaskAge.Seconds())
		p.health.WithLabelValues(name).Set(float64(stats.Health))
		if stats.ShutDown {
			p.shutDown.WithLabelValues(name).Set(1)
		} else {
			p.shutDown.WithLabelValues(name).Set(0)
		}
	}
	p.schedulersMu.RUnlock()

	p.delayedMu.RLock()
	for name, provider := range p.delayed {
		p.delayedPending.WithLabelValues(name).Set(float64(provider.PendingDelayed()))
	}
	p.delayedMu.RUnlock()
}
