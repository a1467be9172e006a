package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// Scheduler marshals work from any number of producer goroutines onto the
// single goroutine that calls Tick.
//
// Schedule is safe from any goroutine. Tick must always be called from the
// same goroutine; concurrent Tick calls are not supported. The scheduler has
// no timer of its own, see TickLoop.
type Scheduler struct {
	cfg Config

	queues  [numPriorities]*TaskQueue
	credits *CreditAllocator
	stats   *StatsCollector
	diag    *diagnostics

	// Consumer-local.
	guard *StarvationGuard

	nextID       atomic.Uint64
	shuttingDown atomic.Bool
	startedAt    time.Time

	// Lifetime context handed to every task; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. cfg may be nil; zero fields take their
// defaults.
func NewScheduler(cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       c,
		credits:   NewCreditAllocator(c.Weights),
		stats:     NewStatsCollector(c.HistorySize),
		diag:      newDiagnostics(c.Logger),
		guard:     NewStarvationGuard(c.Starvation),
		startedAt: c.Clock(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, p := range Priorities {
		s.queues[p] = NewTaskQueue(c.Clock)
	}
	return s
}

// Schedule enqueues fn under priority. It never blocks and never runs fn
// inline.
//
// An empty name is replaced by the closure's function name. After Shutdown,
// or for a nil fn or unknown priority, the task is rejected and the returned
// ID is zero. A task that races Shutdown may be discarded even when a
// non-zero ID is returned.
func (s *Scheduler) Schedule(name string, priority Priority, fn TaskFunc) TaskID {
	name = resolveTaskName(fn, name)

	switch {
	case s.shuttingDown.Load():
		s.reject(name, priority, RejectReasonShutdown)
		return 0
	case fn == nil:
		s.reject(name, priority, RejectReasonNilTask)
		return 0
	case !priority.Valid():
		s.reject(name, priority, RejectReasonInvalidPriority)
		return 0
	}

	id := TaskID(s.nextID.Add(1))
	q := s.queues[priority]
	q.Push(Task{ID: id, Name: name, Priority: priority, Fn: fn})

	// Lost the race with Shutdown: nobody will drain this queue again.
	if s.shuttingDown.Load() {
		s.stats.RecordDiscarded(q.Drain())
		return 0
	}

	s.stats.RecordSubmitted(name, s.cfg.Clock())

	if pending := s.pending(); pending > s.cfg.OverflowWarnThreshold {
		s.diag.Warn(diagOverflow, "pending tasks above threshold",
			F("pending", pending),
			F("threshold", s.cfg.OverflowWarnThreshold),
			F("priority", priority),
		)
	}
	return id
}

func (s *Scheduler) reject(name string, priority Priority, reason string) {
	s.stats.RecordRejected()
	s.cfg.Metrics.RecordTaskRejected(priority, reason)
	s.cfg.RejectedTaskHandler.HandleRejectedTask(name, priority, reason)
}

// Tick runs one scheduling round on the calling goroutine:
//
//  1. credits are replenished from the current weights;
//  2. HIGH, NORMAL and LOW are drained round-robin while credits last;
//  3. unspent credits are redistributed to classes that still have work;
//  4. the starvation guard may force extra LOW work;
//  5. stats are published and credits reset.
//
// Task panics are recovered and never escape Tick. After Shutdown, Tick
// does nothing and returns a zero report.
func (s *Scheduler) Tick() TickReport {
	if s.shuttingDown.Load() {
		return TickReport{}
	}

	start := s.cfg.Clock()
	report := TickReport{
		Tick:      s.stats.Ticks() + 1,
		StartedAt: start,
		Weights:   s.credits.Replenish(),
	}

	var deadline time.Time
	if s.cfg.TickBudget > 0 {
		deadline = start.Add(s.cfg.TickBudget)
	}

	s.drainWithCredits(&report, deadline)

	if report.BudgetExhausted {
		s.credits.Reset()
	} else {
		s.redistribute(&report, deadline)
	}

	s.checkStarvation(&report)

	// Publish.
	s.credits.Reset()
	lowQ := s.queues[PriorityLow]
	oldest, _ := lowQ.PeekOldestAge(s.cfg.Clock())
	s.stats.RecordTick(report.Processed(), s.guard.TicksSinceLow(), oldest)
	for _, p := range Priorities {
		s.cfg.Metrics.RecordQueueDepth(p, s.queues[p].Len())
	}
	report.Duration = s.cfg.Clock().Sub(start)

	s.cfg.Metrics.RecordTick(report)
	if s.cfg.TickObserver != nil {
		s.cfg.TickObserver.ObserveTick(s.ctx, report)
	}
	return report
}

func (s *Scheduler) drainWithCredits(report *TickReport, deadline time.Time) {
	for pass := 0; pass < s.cfg.MaxPassesPerTick; pass++ {
		report.Passes++
		ran := 0
		for _, p := range Priorities {
			if !s.credits.Has(p) {
				continue
			}
			if s.budgetExhausted(deadline) {
				report.BudgetExhausted = true
				return
			}
			task, ok := s.queues[p].Pop()
			if !ok {
				continue
			}
			s.credits.Spend(p)
			s.run(report, task, OriginCredit)
			report.Credit[p]++
			ran++
		}
		if ran == 0 {
			return
		}
	}
	if s.credits.Unspent() > 0 && s.pending() > 0 {
		report.PassCapReached = true
	}
}

func (s *Scheduler) redistribute(report *TickReport, deadline time.Time) {
	var pending [numPriorities]bool
	for _, p := range Priorities {
		pending[p] = !s.queues[p].IsEmpty()
	}

	extra := s.credits.Redistribute(pending)
	for _, p := range Priorities {
		for i := 0; i < extra[p]; i++ {
			if s.budgetExhausted(deadline) {
				report.BudgetExhausted = true
				return
			}
			task, ok := s.queues[p].Pop()
			if !ok {
				break
			}
			s.run(report, task, OriginRedistributed)
			report.Redistributed[p]++
		}
	}
}

func (s *Scheduler) checkStarvation(report *TickReport) {
	lowQ := s.queues[PriorityLow]
	lowRan := report.Credit[PriorityLow] + report.Redistributed[PriorityLow]
	s.guard.Observe(lowRan, lowQ.Len())

	age, hasOldest := lowQ.PeekOldestAge(s.cfg.Clock())
	plan := s.guard.Plan(lowQ.Len(), age, hasOldest)
	if !plan.Active() {
		return
	}

	forced := 0
	for forced < plan.Limit {
		if forced >= plan.MinTasks {
			if !plan.DrainAged {
				break
			}
			age, ok := lowQ.PeekOldestAge(s.cfg.Clock())
			if !ok || age <= plan.MaxAge {
				break
			}
		}
		task, ok := lowQ.Pop()
		if !ok {
			break
		}
		s.run(report, task, OriginForced)
		forced++
	}

	s.guard.Forced(forced)
	report.Forced = forced
	report.ForceReason = plan.Reason

	s.cfg.Logger.Debug("forced low priority execution",
		F("tick", report.Tick),
		F("forced", forced),
		F("reason", plan.Reason),
		F("low_pending", lowQ.Len()),
	)
}

func (s *Scheduler) budgetExhausted(deadline time.Time) bool {
	return !deadline.IsZero() && !s.cfg.Clock().Before(deadline)
}

// run executes one task and records the outcome.
func (s *Scheduler) run(report *TickReport, task Task, origin ExecutionOrigin) {
	startedAt := s.cfg.Clock()
	panicked := s.execute(task)
	finishedAt := s.cfg.Clock()
	duration := finishedAt.Sub(startedAt)

	if panicked {
		report.Failed++
	}

	s.stats.RecordExecution(TaskExecutionRecord{
		TaskID:     task.ID,
		Name:       task.Name,
		Module:     ModuleOf(task.Name),
		Priority:   task.Priority,
		Origin:     origin,
		Tick:       report.Tick,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   duration,
		Wait:       task.Age(startedAt),
		Panicked:   panicked,
	})
	s.cfg.Metrics.RecordTaskDuration(task.Priority, origin, duration)

	if duration > s.cfg.SlowTaskThreshold {
		s.diag.Info(diagSlowTask+":"+task.Name, "slow task",
			F("task", task.Name),
			F("priority", task.Priority),
			F("duration", duration),
			F("threshold", s.cfg.SlowTaskThreshold),
		)
	}
}

func (s *Scheduler) execute(task Task) (panicked bool) {
	ctx := context.WithValue(s.ctx, schedulerKey, s)
	ctx = context.WithValue(ctx, taskNameKey, task.Name)

	defer func() {
		if r := recover(); r != nil {
			panicked = true
			s.cfg.PanicHandler.HandlePanic(ctx, task.Name, task.Priority, r, debug.Stack())
			s.cfg.Metrics.RecordTaskPanic(task.Name, task.Priority, r)
		}
	}()

	task.Fn(ctx)
	return false
}

// =============================================================================
// Weights
// =============================================================================

// ConfigureWeights clamps and installs new weights, effective from the next
// Tick. It returns the weights actually installed.
func (s *Scheduler) ConfigureWeights(high, normal, low int) Weights {
	w := s.credits.Configure(Weights{High: high, Normal: normal, Low: low})
	s.cfg.Logger.Info("weights configured", F("weights", w.String()))
	return w
}

// ApplyWeights installs w, typically a preset such as BalancedWeights.
func (s *Scheduler) ApplyWeights(w Weights) Weights {
	return s.ConfigureWeights(w.High, w.Normal, w.Low)
}

// ResetWeightsToDefault installs the 5:3:1 default.
func (s *Scheduler) ResetWeightsToDefault() Weights {
	d := DefaultWeights()
	return s.ConfigureWeights(d.High, d.Normal, d.Low)
}

func (s *Scheduler) Weights() Weights {
	return s.credits.Weights()
}

// =============================================================================
// Lifecycle
// =============================================================================

// Shutdown stops accepting tasks, discards everything pending and returns
// the number of discarded tasks. Later calls return only what raced in
// since the previous call.
func (s *Scheduler) Shutdown() int {
	first := s.shuttingDown.CompareAndSwap(false, true)
	if first {
		s.cancel()
	}

	discarded := 0
	for _, q := range s.queues {
		discarded += q.Drain()
	}
	s.stats.RecordDiscarded(discarded)

	if first {
		s.cfg.Logger.Info("scheduler shut down",
			F("discarded", discarded),
			F("processed", s.stats.TotalProcessed()),
		)
	}
	return discarded
}

func (s *Scheduler) IsShutdown() bool {
	return s.shuttingDown.Load()
}

// Context is the scheduler lifetime context. It is done after Shutdown.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Logger returns the configured logger.
func (s *Scheduler) Logger() Logger {
	return s.cfg.Logger
}

// Now reads the scheduler clock.
func (s *Scheduler) Now() time.Time {
	return s.cfg.Clock()
}

// =============================================================================
// Observability
// =============================================================================

func (s *Scheduler) pending() int {
	n := 0
	for _, q := range s.queues {
		n += q.Len()
	}
	return n
}

// Pending returns the approximate number of queued tasks of class p.
func (s *Scheduler) Pending(p Priority) int {
	if !p.Valid() {
		return 0
	}
	return s.queues[p].Len()
}

// Stats returns a snapshot. Safe from any goroutine.
func (s *Scheduler) Stats() Stats {
	var st Stats
	s.stats.Fill(&st)

	st.PendingHigh = s.queues[PriorityHigh].Len()
	st.PendingNormal = s.queues[PriorityNormal].Len()
	st.PendingLow = s.queues[PriorityLow].Len()
	st.TotalPending = st.PendingHigh + st.PendingNormal + st.PendingLow
	for _, p := range Priorities {
		st.PerPriority[p].Pending = st.Pending(p)
	}

	st.Weights = s.credits.Weights()
	st.Health = EvaluateHealth(st.TotalPending, s.cfg.HealthWarningThreshold, s.cfg.HealthCriticalThreshold)
	st.ShutDown = s.IsShutdown()
	return st
}

// Health evaluates the pending count against the configured thresholds.
func (s *Scheduler) Health() HealthStatus {
	return EvaluateHealth(s.pending(), s.cfg.HealthWarningThreshold, s.cfg.HealthCriticalThreshold)
}

// SystemHealth rates backlog, failure rate and execution time together.
func (s *Scheduler) SystemHealth() SystemHealthReport {
	return newSystemHealthReport(s.Stats(), s.cfg.Clock().Sub(s.startedAt), s.stats.ModuleCount(), s.cfg.HealthThresholds)
}

// ProblematicModules returns the modules that fail too often, run too slow
// or failed too many times recently.
func (s *Scheduler) ProblematicModules() []ProblemModule {
	return s.stats.problemModules(s.cfg.Clock(), s.cfg.HealthThresholds)
}

// RecentExecutions returns up to limit records, newest first.
func (s *Scheduler) RecentExecutions(limit int) []TaskExecutionRecord {
	return s.stats.Recent(limit)
}

func (s *Scheduler) LastExecution() (TaskExecutionRecord, bool) {
	return s.stats.Last()
}

// ModuleStats returns counters for tasks named "<module>_...".
func (s *Scheduler) ModuleStats(module string) (ModuleStats, bool) {
	return s.stats.ModuleStats(module)
}

func (s *Scheduler) AllModuleStats() []ModuleStats {
	return s.stats.AllModuleStats()
}

func (s *Scheduler) String() string {
	st := s.Stats()
	return fmt.Sprintf("Scheduler{pending=%d/%d/%d processed=%d ticks=%d %s}",
		st.PendingHigh, st.PendingNormal, st.PendingLow, st.TotalProcessed, st.Ticks, st.Weights)
}
