package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvaluateExecutionHealth verifies the failure-rate and latency bounds
// Given: Default thresholds of 5%/10% failures and 100ms/200ms average time
// When: Values around each bound are rated
// Then: Either measure alone can raise the status, and bounds are exclusive
func TestEvaluateExecutionHealth(t *testing.T) {
	th := DefaultHealthThresholds()
	tests := []struct {
		rate float64
		avg  time.Duration
		want HealthStatus
	}{
		{0, 0, HealthHealthy},
		{0.05, 100 * time.Millisecond, HealthHealthy},
		{0.06, 0, HealthWarning},
		{0, 101 * time.Millisecond, HealthWarning},
		{0.10, 200 * time.Millisecond, HealthWarning},
		{0.11, 0, HealthCritical},
		{0, 201 * time.Millisecond, HealthCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EvaluateExecutionHealth(tt.rate, tt.avg, th), "rate=%v avg=%v", tt.rate, tt.avg)
	}
}

// TestScheduler_SystemHealth verifies the combined health report
// Given: 10 tasks of 10ms each where one panics
// When: They run and later a 3s task runs
// Then: The report moves from WARNING on failures to CRITICAL on latency
func TestScheduler_SystemHealth(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock, nil)
	s.ConfigureWeights(10, 8, 5)

	for i := 0; i < 10; i++ {
		s.Schedule(fmt.Sprintf("Net_%d", i), PriorityNormal, func(context.Context) {
			clock.Advance(10 * time.Millisecond)
			if i == 0 {
				panic("connection reset")
			}
		})
	}
	s.Tick()

	r := s.SystemHealth()
	assert.Equal(t, HealthWarning, r.Status)
	assert.Equal(t, HealthHealthy, r.Backlog)
	assert.Equal(t, HealthWarning, r.Execution)
	assert.Equal(t, int64(10), r.TotalProcessed)
	assert.Equal(t, int64(1), r.TotalFailed)
	assert.InDelta(t, 0.1, r.FailureRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, r.AvgExec)
	assert.Equal(t, 100*time.Millisecond, r.Uptime)
	assert.InDelta(t, 100, r.Throughput, 1e-6)
	assert.Equal(t, 1, r.ActiveModules)

	s.Schedule("Disk_Flush", PriorityNormal, func(context.Context) { clock.Advance(3 * time.Second) })
	s.Tick()

	r = s.SystemHealth()
	assert.Equal(t, HealthCritical, r.Execution)
	assert.Equal(t, HealthCritical, r.Status)
	assert.Equal(t, 2, r.ActiveModules)
}

// TestScheduler_SystemHealthBacklog verifies a backlog alone lowers the status
// Given: Warning at 5 pending tasks and nothing executed yet
// When: 6 tasks are pending
// Then: Status is WARNING while execution is HEALTHY
func TestScheduler_SystemHealthBacklog(t *testing.T) {
	s := newTestScheduler(nil, func(cfg *Config) {
		cfg.HealthWarningThreshold = 5
		cfg.HealthCriticalThreshold = 10
	})
	scheduleN(s, PriorityLow, 6, noop)

	r := s.SystemHealth()
	assert.Equal(t, HealthWarning, r.Status)
	assert.Equal(t, HealthHealthy, r.Execution)
	assert.Zero(t, r.Throughput)
}

// TestScheduler_ProblematicModules verifies module flagging
// Given: A healthy module, a failing one, a slow one and one with a burst of
// failures under a 15% failure-rate bound
// When: Everything runs, then the recent-failure window passes
// Then: Each bad module is flagged for its own reason and the burst expires
func TestScheduler_ProblematicModules(t *testing.T) {
	clock := newFakeClock()
	s := newTestScheduler(clock, func(cfg *Config) {
		cfg.HealthThresholds.ModuleFailureRate = 0.15
	})
	s.ConfigureWeights(10, 8, 5)

	scheduleModule := func(module string, ok, failed int, cost time.Duration) {
		for i := 0; i < ok+failed; i++ {
			s.Schedule(fmt.Sprintf("%s_%d", module, i), PriorityNormal, func(context.Context) {
				clock.Advance(cost)
				if i < failed {
					panic(module + " failed")
				}
			})
		}
	}
	scheduleModule("Net", 5, 0, time.Millisecond)
	scheduleModule("Audio", 4, 1, time.Millisecond)
	scheduleModule("Physics", 3, 0, 150*time.Millisecond)
	scheduleModule("Spam", 80, 11, 0)

	for s.Stats().TotalPending > 0 {
		s.Tick()
	}

	got := s.ProblematicModules()
	require.Len(t, got, 3)
	assert.Equal(t, "Audio", got[0].Stats.Module)
	assert.Equal(t, ModuleIssueFailureRate, got[0].Issues)
	assert.Equal(t, "Physics", got[1].Stats.Module)
	assert.Equal(t, ModuleIssueSlow, got[1].Issues)
	assert.Equal(t, "Spam", got[2].Stats.Module)
	assert.Equal(t, ModuleIssueRecentFailures, got[2].Issues)
	assert.Equal(t, 11, got[2].RecentFailures)

	clock.Advance(6 * time.Minute)

	got = s.ProblematicModules()
	require.Len(t, got, 2)
	assert.Equal(t, "Audio", got[0].Stats.Module)
	assert.Equal(t, "Physics", got[1].Stats.Module)
}

// TestModuleCounters_FailureWindowIsBounded verifies the kept failure times
// Given: A module that failed more often than the kept capacity
// When: Failures are counted since the beginning
// Then: Only the newest failures are kept
func TestModuleCounters_FailureWindowIsBounded(t *testing.T) {
	var m moduleCounters
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < recentFailureCapacity+10; i++ {
		m.recordFailure(start.Add(time.Duration(i) * time.Second))
	}

	assert.Len(t, m.failureTimes, recentFailureCapacity)
	assert.Equal(t, start.Add(10*time.Second), m.failureTimes[0])
	assert.Equal(t, recentFailureCapacity, m.failuresSince(start))
	assert.Equal(t, 5, m.failuresSince(start.Add(time.Duration(recentFailureCapacity+4)*time.Second)))
}

func TestModuleIssue_String(t *testing.T) {
	assert.Equal(t, "none", ModuleIssue(0).String())
	assert.Equal(t, "failure-rate|recent-failures", (ModuleIssueFailureRate | ModuleIssueRecentFailures).String())
}

// TestWeightPreset verifies named presets
// Given: Each preset name in a few spellings
// When: WeightPreset resolves it
// Then: The matching weights are returned and unknown names fail
func TestWeightPreset(t *testing.T) {
	tests := map[string]Weights{
		"default":       {5, 3, 1},
		"Balanced":      {1, 1, 1},
		"high-priority": {3, 1, 1},
		" background ":  {1, 1, 3},
	}
	for name, want := range tests {
		got, err := WeightPreset(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
		assert.Equal(t, got, got.Clamp(), "preset %s must already be in range", name)
	}

	_, err := WeightPreset("turbo")
	assert.Error(t, err)
}

// TestScheduler_ApplyWeightsPreset verifies presets drive the next tick
// Given: Every class saturated
// When: The background preset is applied
// Then: The next tick spends 1:1:3
func TestScheduler_ApplyWeightsPreset(t *testing.T) {
	s := newTestScheduler(nil, nil)
	for _, p := range Priorities {
		scheduleN(s, p, 20, noop)
	}

	assert.Equal(t, BackgroundFocusedWeights(), s.ApplyWeights(BackgroundFocusedWeights()))
	report := s.Tick()

	assert.Equal(t, [numPriorities]int{1, 1, 3}, report.Credit)
}
