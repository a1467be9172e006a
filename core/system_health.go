package core

import (
	"sort"
	"strings"
	"time"
)

// HealthThresholds rate execution quality. Rates are fractions of finished
// tasks and every bound is exclusive.
type HealthThresholds struct {
	FailureRateWarning  float64
	FailureRateCritical float64
	AvgExecWarning      time.Duration
	AvgExecCritical     time.Duration

	// A module is problematic when any of these is exceeded. Recent
	// failures are counted inside RecentWindow.
	ModuleFailureRate    float64
	ModuleAvgExec        time.Duration
	ModuleRecentFailures int
	RecentWindow         time.Duration
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		FailureRateWarning:   0.05,
		FailureRateCritical:  0.10,
		AvgExecWarning:       100 * time.Millisecond,
		AvgExecCritical:      200 * time.Millisecond,
		ModuleFailureRate:    0.05,
		ModuleAvgExec:        100 * time.Millisecond,
		ModuleRecentFailures: 10,
		RecentWindow:         5 * time.Minute,
	}
}

func (h HealthThresholds) withDefaults() HealthThresholds {
	d := DefaultHealthThresholds()
	if h.FailureRateWarning <= 0 {
		h.FailureRateWarning = d.FailureRateWarning
	}
	if h.FailureRateCritical <= 0 {
		h.FailureRateCritical = d.FailureRateCritical
	}
	if h.AvgExecWarning <= 0 {
		h.AvgExecWarning = d.AvgExecWarning
	}
	if h.AvgExecCritical <= 0 {
		h.AvgExecCritical = d.AvgExecCritical
	}
	if h.ModuleFailureRate <= 0 {
		h.ModuleFailureRate = d.ModuleFailureRate
	}
	if h.ModuleAvgExec <= 0 {
		h.ModuleAvgExec = d.ModuleAvgExec
	}
	if h.ModuleRecentFailures <= 0 {
		h.ModuleRecentFailures = d.ModuleRecentFailures
	}
	if h.RecentWindow <= 0 {
		h.RecentWindow = d.RecentWindow
	}
	return h
}

// EvaluateExecutionHealth rates a failure rate and an average execution time.
func EvaluateExecutionHealth(failureRate float64, avgExec time.Duration, th HealthThresholds) HealthStatus {
	switch {
	case failureRate > th.FailureRateCritical, avgExec > th.AvgExecCritical:
		return HealthCritical
	case failureRate > th.FailureRateWarning, avgExec > th.AvgExecWarning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// SystemHealthReport rates the scheduler as a whole. Status is the worse of
// the backlog rating and the execution rating.
type SystemHealthReport struct {
	Status    HealthStatus
	Backlog   HealthStatus
	Execution HealthStatus

	Uptime         time.Duration
	TotalProcessed int64
	TotalFailed    int64
	FailureRate    float64
	AvgExec        time.Duration
	ActiveModules  int

	// Throughput is tasks per second over the uptime.
	Throughput float64
}

func newSystemHealthReport(st Stats, uptime time.Duration, modules int, th HealthThresholds) SystemHealthReport {
	r := SystemHealthReport{
		Backlog:        st.Health,
		Uptime:         uptime,
		TotalProcessed: st.TotalProcessed,
		TotalFailed:    st.TotalFailed,
		ActiveModules:  modules,
	}
	if st.TotalProcessed > 0 {
		var exec time.Duration
		for _, ps := range st.PerPriority {
			exec += ps.TotalExec
		}
		r.FailureRate = float64(st.TotalFailed) / float64(st.TotalProcessed)
		r.AvgExec = exec / time.Duration(st.TotalProcessed)
	}
	if uptime > 0 {
		r.Throughput = float64(st.TotalProcessed) / uptime.Seconds()
	}
	r.Execution = EvaluateExecutionHealth(r.FailureRate, r.AvgExec, th)
	r.Status = max(r.Backlog, r.Execution)
	return r
}

// ModuleIssue is a set of reasons a module was flagged.
type ModuleIssue uint8

const (
	ModuleIssueFailureRate ModuleIssue = 1 << iota
	ModuleIssueSlow
	ModuleIssueRecentFailures
)

func (i ModuleIssue) Has(flag ModuleIssue) bool {
	return i&flag != 0
}

func (i ModuleIssue) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i.Has(ModuleIssueFailureRate) {
		parts = append(parts, "failure-rate")
	}
	if i.Has(ModuleIssueSlow) {
		parts = append(parts, "slow")
	}
	if i.Has(ModuleIssueRecentFailures) {
		parts = append(parts, "recent-failures")
	}
	return strings.Join(parts, "|")
}

// ProblemModule is a module that crossed one of the module thresholds.
type ProblemModule struct {
	Stats          ModuleStats
	RecentFailures int
	Issues         ModuleIssue
}

// problemModules rates every module with finished tasks, sorted by name.
func (c *StatsCollector) problemModules(now time.Time, th HealthThresholds) []ProblemModule {
	since := now.Add(-th.RecentWindow)

	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()

	var out []ProblemModule
	for name, m := range c.modules {
		st := m.snapshot(name)
		pm := ProblemModule{Stats: st, RecentFailures: m.failuresSince(since)}
		if st.FailureRate() > th.ModuleFailureRate {
			pm.Issues |= ModuleIssueFailureRate
		}
		if st.AvgExec() > th.ModuleAvgExec {
			pm.Issues |= ModuleIssueSlow
		}
		if pm.RecentFailures > th.ModuleRecentFailures {
			pm.Issues |= ModuleIssueRecentFailures
		}
		if pm.Issues != 0 {
			out = append(out, pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stats.Module < out[j].Stats.Module })
	return out
}
