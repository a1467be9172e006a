package core

import (
	"strings"
	"time"
)

// StarvationConfig bounds how long LOW work may wait.
type StarvationConfig struct {
	// MaxTicksWithoutLow is the number of consecutive ticks LOW may have
	// pending work without running before one task is forced.
	MaxTicksWithoutLow int

	// MaxTaskAge forces every head LOW task older than this.
	MaxTaskAge time.Duration

	// BacklogCeiling guarantees LOW one execution per ceiling of overflow,
	// rounded up, in every tick that ends above it. LOW tasks already run
	// by credits count toward the guarantee.
	BacklogCeiling int

	// MaxForcedPerTick caps forced executions in a single tick.
	MaxForcedPerTick int
}

func DefaultStarvationConfig() StarvationConfig {
	return StarvationConfig{
		MaxTicksWithoutLow: 20,
		MaxTaskAge:         5 * time.Second,
		BacklogCeiling:     50,
		MaxForcedPerTick:   10,
	}
}

func (c StarvationConfig) withDefaults() StarvationConfig {
	d := DefaultStarvationConfig()
	if c.MaxTicksWithoutLow <= 0 {
		c.MaxTicksWithoutLow = d.MaxTicksWithoutLow
	}
	if c.MaxTaskAge <= 0 {
		c.MaxTaskAge = d.MaxTaskAge
	}
	if c.BacklogCeiling <= 0 {
		c.BacklogCeiling = d.BacklogCeiling
	}
	if c.MaxForcedPerTick <= 0 {
		c.MaxForcedPerTick = d.MaxForcedPerTick
	}
	return c
}

// StarvationReason is a set of triggers that fired in one tick.
type StarvationReason uint8

const (
	StarvationTickCount StarvationReason = 1 << iota
	StarvationAge
	StarvationBacklog
)

func (r StarvationReason) Has(flag StarvationReason) bool {
	return r&flag != 0
}

func (r StarvationReason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r.Has(StarvationTickCount) {
		parts = append(parts, "ticks")
	}
	if r.Has(StarvationAge) {
		parts = append(parts, "age")
	}
	if r.Has(StarvationBacklog) {
		parts = append(parts, "backlog")
	}
	return strings.Join(parts, "|")
}

// ForcePlan says how much LOW work the guard wants forced this tick.
//
// MinTasks is a floor driven by the tick-count and backlog triggers. When
// DrainAged is set the scheduler keeps popping while the head is older than
// MaxAge. Both are bounded by Limit.
type ForcePlan struct {
	Reason    StarvationReason
	MinTasks  int
	DrainAged bool
	MaxAge    time.Duration
	Limit     int
}

func (p ForcePlan) Active() bool {
	return p.Reason != 0
}

// StarvationGuard tracks ticks since the last LOW execution. It is owned by
// the consumer goroutine.
type StarvationGuard struct {
	cfg           StarvationConfig
	ticksSinceLow int
	lowRanInTick  int
}

func NewStarvationGuard(cfg StarvationConfig) *StarvationGuard {
	return &StarvationGuard{cfg: cfg.withDefaults()}
}

func (g *StarvationGuard) Config() StarvationConfig {
	return g.cfg
}

func (g *StarvationGuard) TicksSinceLow() int {
	return g.ticksSinceLow
}

// Observe updates the tick counter after the credit phases of a tick.
// lowRan is how many LOW tasks ran so far this tick.
func (g *StarvationGuard) Observe(lowRan int, lowPending int) {
	g.lowRanInTick = lowRan
	switch {
	case lowRan > 0, lowPending == 0:
		g.ticksSinceLow = 0
	default:
		g.ticksSinceLow++
	}
}

// Plan evaluates the three triggers against the LOW queue state.
func (g *StarvationGuard) Plan(lowPending int, oldestAge time.Duration, hasOldest bool) ForcePlan {
	plan := ForcePlan{MaxAge: g.cfg.MaxTaskAge, Limit: g.cfg.MaxForcedPerTick}
	if lowPending == 0 {
		return plan
	}

	if g.ticksSinceLow >= g.cfg.MaxTicksWithoutLow {
		plan.Reason |= StarvationTickCount
		plan.MinTasks = 1
	}
	if hasOldest && oldestAge > g.cfg.MaxTaskAge {
		plan.Reason |= StarvationAge
		plan.DrainAged = true
	}
	if c := g.cfg.BacklogCeiling; lowPending > c {
		owed := (lowPending - c + c - 1) / c
		if extra := owed - g.lowRanInTick; extra > 0 {
			plan.Reason |= StarvationBacklog
			plan.MinTasks = max(plan.MinTasks, extra)
		}
	}
	plan.MinTasks = min(plan.MinTasks, plan.Limit)
	return plan
}

// Forced records that n LOW tasks were forced.
func (g *StarvationGuard) Forced(n int) {
	if n > 0 {
		g.ticksSinceLow = 0
	}
}
