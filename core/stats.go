package core

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type priorityCounters struct {
	processed atomic.Int64
	failed    atomic.Int64
	forced    atomic.Int64
	execNanos atomic.Int64
	execMax   atomic.Int64
	waitNanos atomic.Int64
	waitMax   atomic.Int64
}

// recentFailureCapacity bounds the failure timestamps kept per module.
const recentFailureCapacity = 50

type moduleCounters struct {
	submitted    int64
	completed    int64
	failed       int64
	totalExec    time.Duration
	lastActivity time.Time

	// Oldest first, at most recentFailureCapacity entries.
	failureTimes []time.Time
}

// StatsCollector holds the scheduler counters.
//
// Execution counters are written by the consumer goroutine only; rejection,
// discard and submission counters may be bumped by producers. Every field is
// readable from any goroutine.
type StatsCollector struct {
	perPriority [numPriorities]priorityCounters

	processedLastTick atomic.Int64
	ticks             atomic.Uint64
	ticksSinceLow     atomic.Int64
	oldestLowAge      atomic.Int64
	rejected          atomic.Int64
	discarded         atomic.Int64

	modulesMu sync.Mutex
	modules   map[string]*moduleCounters

	history *executionHistory
}

func NewStatsCollector(historySize int) *StatsCollector {
	return &StatsCollector{
		modules: make(map[string]*moduleCounters),
		history: newExecutionHistory(historySize),
	}
}

// RecordSubmitted counts an accepted task against its module.
func (c *StatsCollector) RecordSubmitted(name string, at time.Time) {
	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()
	m := c.moduleLocked(ModuleOf(name))
	m.submitted++
	m.lastActivity = at
}

// RecordExecution folds one finished task into the counters and history.
func (c *StatsCollector) RecordExecution(rec TaskExecutionRecord) {
	pc := &c.perPriority[rec.Priority]
	pc.processed.Add(1)
	if rec.Panicked {
		pc.failed.Add(1)
	}
	if rec.Origin == OriginForced {
		pc.forced.Add(1)
	}
	pc.execNanos.Add(int64(rec.Duration))
	storeMax(&pc.execMax, int64(rec.Duration))
	pc.waitNanos.Add(int64(rec.Wait))
	storeMax(&pc.waitMax, int64(rec.Wait))

	c.modulesMu.Lock()
	m := c.moduleLocked(rec.Module)
	if rec.Panicked {
		m.failed++
		m.recordFailure(rec.FinishedAt)
	} else {
		m.completed++
	}
	m.totalExec += rec.Duration
	m.lastActivity = rec.FinishedAt
	c.modulesMu.Unlock()

	c.history.Add(rec)
}

// RecordTick publishes the end-of-tick state.
func (c *StatsCollector) RecordTick(processed int, ticksSinceLow int, oldestLowAge time.Duration) uint64 {
	c.processedLastTick.Store(int64(processed))
	c.ticksSinceLow.Store(int64(ticksSinceLow))
	c.oldestLowAge.Store(int64(oldestLowAge))
	return c.ticks.Add(1)
}

func (c *StatsCollector) RecordRejected() {
	c.rejected.Add(1)
}

func (c *StatsCollector) RecordDiscarded(n int) {
	if n > 0 {
		c.discarded.Add(int64(n))
	}
}

func (c *StatsCollector) TotalProcessed() int64 {
	var n int64
	for i := range c.perPriority {
		n += c.perPriority[i].processed.Load()
	}
	return n
}

// ModuleCount is the number of modules seen so far.
func (c *StatsCollector) ModuleCount() int {
	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()
	return len(c.modules)
}

func (c *StatsCollector) Ticks() uint64 {
	return c.ticks.Load()
}

// Fill copies the counters into s. Pending counts, weights and health are
// left to the caller.
func (c *StatsCollector) Fill(s *Stats) {
	for _, p := range Priorities {
		pc := &c.perPriority[p]
		ps := PriorityStats{
			Priority:  p,
			Processed: pc.processed.Load(),
			Failed:    pc.failed.Load(),
			Forced:    pc.forced.Load(),
			TotalExec: time.Duration(pc.execNanos.Load()),
			MaxExec:   time.Duration(pc.execMax.Load()),
			TotalWait: time.Duration(pc.waitNanos.Load()),
			MaxWait:   time.Duration(pc.waitMax.Load()),
		}
		s.PerPriority[p] = ps
		s.TotalProcessed += ps.Processed
		s.TotalFailed += ps.Failed
	}
	s.TotalForcedLow = s.PerPriority[PriorityLow].Forced
	s.ProcessedLastTick = int(c.processedLastTick.Load())
	s.Ticks = c.ticks.Load()
	s.TicksSinceLowExecution = int(c.ticksSinceLow.Load())
	s.OldestLowTaskAge = time.Duration(c.oldestLowAge.Load())
	s.TotalRejected = c.rejected.Load()
	s.TotalDiscarded = c.discarded.Load()
}

// ModuleStats returns the counters of one module.
func (c *StatsCollector) ModuleStats(module string) (ModuleStats, bool) {
	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()
	m, ok := c.modules[module]
	if !ok {
		return ModuleStats{Module: module}, false
	}
	return m.snapshot(module), true
}

// AllModuleStats returns every module sorted by name.
func (c *StatsCollector) AllModuleStats() []ModuleStats {
	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()
	out := make([]ModuleStats, 0, len(c.modules))
	for name, m := range c.modules {
		out = append(out, m.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

func (c *StatsCollector) Recent(limit int) []TaskExecutionRecord {
	return c.history.Recent(limit)
}

func (c *StatsCollector) Last() (TaskExecutionRecord, bool) {
	return c.history.Last()
}

func (c *StatsCollector) moduleLocked(name string) *moduleCounters {
	m, ok := c.modules[name]
	if !ok {
		m = &moduleCounters{}
		c.modules[name] = m
	}
	return m
}

func (m *moduleCounters) snapshot(name string) ModuleStats {
	return ModuleStats{
		Module:       name,
		Submitted:    m.submitted,
		Completed:    m.completed,
		Failed:       m.failed,
		TotalExec:    m.totalExec,
		LastActivity: m.lastActivity,
	}
}

func (m *moduleCounters) recordFailure(at time.Time) {
	if len(m.failureTimes) == recentFailureCapacity {
		copy(m.failureTimes, m.failureTimes[1:])
		m.failureTimes = m.failureTimes[:recentFailureCapacity-1]
	}
	m.failureTimes = append(m.failureTimes, at)
}

// failuresSince counts kept failures strictly after since.
func (m *moduleCounters) failuresSince(since time.Time) int {
	n := 0
	for i := len(m.failureTimes) - 1; i >= 0 && m.failureTimes[i].After(since); i-- {
		n++
	}
	return n
}

func storeMax(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}
